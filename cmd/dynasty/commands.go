package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/dynasty/internal/client"
	"github.com/kalambet/dynasty/internal/config"
)

type sessionInfo struct {
	Authenticated bool         `json:"authenticated"`
	Commissioner  bool         `json:"commissioner"`
	User          *client.User `json:"user"`
	SelectedTeam  *client.Team `json:"selectedTeam"`
}

func (s sessionInfo) describe() string {
	if !s.Authenticated || s.User == nil {
		return "signed out"
	}
	out := s.User.Username
	if s.Commissioner {
		out += " (commissioner)"
	}
	if s.SelectedTeam != nil {
		out += ", coaching " + s.SelectedTeam.Name
	}
	return out
}

type pendingInfo struct {
	Pending []struct {
		AchievementID string `json:"achievementId"`
		RequestID     string `json:"requestId"`
	} `json:"pending"`
	History []struct {
		RequestID     string `json:"requestId"`
		AchievementID string `json:"achievementId"`
		Status        string `json:"status"`
		Message       string `json:"message"`
	} `json:"history"`
}

// query builds a query string from the non-empty values in kv pairs.
func query(path string, kv ...string) string {
	q := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" && kv[i+1] != "0" {
			q.Set(kv[i], kv[i+1])
		}
	}
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func boolParam(b bool) string {
	if b {
		return "true"
	}
	return ""
}

// --- session ---

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Sign in to the league",
	Long: `Sign in to the league. The password is read from --password or the
DYNASTY_PASSWORD environment variable.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			password = os.Getenv("DYNASTY_PASSWORD")
		}
		if password == "" {
			return fmt.Errorf("password is required (--password or DYNASTY_PASSWORD)")
		}

		c, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := c.post(cmd.Context(), "/session/login", client.LoginRequest{Username: args[0], Password: password})
		if err != nil {
			return err
		}
		var s sessionInfo
		if err := decodeJSON(resp, &s); err != nil {
			return err
		}
		printSuccess("Signed in as %s", s.describe())
		return nil
	},
}

func init() {
	loginCmd.Flags().String("password", "", "account password")
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := c.post(cmd.Context(), "/session/logout", nil)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Signed out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := c.get(cmd.Context(), "/session")
		if err != nil {
			return err
		}
		var s sessionInfo
		if err := decodeJSON(resp, &s); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), s.describe())
		return nil
	},
}

var teamCmd = &cobra.Command{
	Use:   "team <id>",
	Short: "Select the team you coach",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := c.put(cmd.Context(), "/session/team", map[string]string{"teamId": args[0]})
		if err != nil {
			return err
		}
		var s sessionInfo
		if err := decodeJSON(resp, &s); err != nil {
			return err
		}
		if s.SelectedTeam == nil {
			return fmt.Errorf("server did not confirm the selected team")
		}
		printSuccess("Selected team: %s", s.SelectedTeam.Name)
		return nil
	},
}

// --- league data ---

var teamsCmd = &cobra.Command{
	Use:   "teams",
	Short: "List teams",
	RunE: func(cmd *cobra.Command, args []string) error {
		search, _ := cmd.Flags().GetString("search")
		conference, _ := cmd.Flags().GetString("conference")
		human, _ := cmd.Flags().GetBool("human")
		size, _ := cmd.Flags().GetInt("size")

		c, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := c.get(cmd.Context(), query("/teams",
			"search", search, "conference", conference,
			"human", boolParam(human), "size", strconv.Itoa(size)))
		if err != nil {
			return err
		}
		var page client.Page[client.Team]
		if err := decodeJSON(resp, &page); err != nil {
			return err
		}

		rows := make([]string, len(page.Content))
		for i, t := range page.Content {
			coach := t.Username
			if coach == "" {
				coach = "CPU"
			}
			rows[i] = fmt.Sprintf("%s\t%s\t%s\t%s", t.ID, t.Name, t.Conference, coach)
		}
		return table(cmd.OutOrStdout(), "ID\tTEAM\tCONFERENCE\tCOACH", rows)
	},
}

func init() {
	teamsCmd.Flags().String("search", "", "filter by name")
	teamsCmd.Flags().String("conference", "", "filter by conference")
	teamsCmd.Flags().Bool("human", false, "only teams with a human coach")
	teamsCmd.Flags().Int("size", 50, "page size")
}

var standingsCmd = &cobra.Command{
	Use:   "standings",
	Short: "Show standings for a season",
	RunE: func(cmd *cobra.Command, args []string) error {
		year, _ := cmd.Flags().GetInt("year")
		conference, _ := cmd.Flags().GetString("conference")

		c, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := c.get(cmd.Context(), query("/standings",
			"year", strconv.Itoa(year), "conference", conference, "size", "200"))
		if err != nil {
			return err
		}
		var page client.Page[client.Standing]
		if err := decodeJSON(resp, &page); err != nil {
			return err
		}

		rows := make([]string, len(page.Content))
		for i, s := range page.Content {
			rank := "-"
			if s.Rank != nil {
				rank = strconv.Itoa(*s.Rank)
			}
			rows[i] = fmt.Sprintf("%s\t%s\t%d-%d\t%d-%d", rank, s.Team.Name, s.Wins, s.Losses, s.ConferenceWins, s.ConferenceLosses)
		}
		return table(cmd.OutOrStdout(), "RANK\tTEAM\tRECORD\tCONF", rows)
	},
}

func init() {
	standingsCmd.Flags().Int("year", 0, "season (default: current)")
	standingsCmd.Flags().String("conference", "", "filter by conference")
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Show games for a week",
	RunE: func(cmd *cobra.Command, args []string) error {
		year, _ := cmd.Flags().GetInt("year")
		week, _ := cmd.Flags().GetInt("week")
		mine, _ := cmd.Flags().GetBool("mine")
		view := ""
		if mine {
			view = "selected"
		}

		c, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := c.get(cmd.Context(), query("/schedule",
			"year", strconv.Itoa(year), "week", strconv.Itoa(week), "view", view))
		if err != nil {
			return err
		}
		var sched struct {
			Games  []client.Game `json:"games"`
			WeekID string        `json:"weekId"`
		}
		if err := decodeJSON(resp, &sched); err != nil {
			return err
		}
		if len(sched.Games) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No games found.")
			return nil
		}

		rows := make([]string, len(sched.Games))
		for i, g := range sched.Games {
			rows[i] = fmt.Sprintf("%d\t%s\t%s\t%s", g.WeekNumber, teamLabel(g.AwayTeamName, g.AwayTeamID), teamLabel(g.HomeTeamName, g.HomeTeamID), score(g))
		}
		return table(cmd.OutOrStdout(), "WEEK\tAWAY\tHOME\tSCORE", rows)
	},
}

func init() {
	scheduleCmd.Flags().Int("year", 0, "season (default: current)")
	scheduleCmd.Flags().Int("week", 0, "week number (default: current)")
	scheduleCmd.Flags().Bool("mine", false, "only games of the selected team")
}

func teamLabel(name, id string) string {
	if name != "" {
		return name
	}
	return id
}

func score(g client.Game) string {
	if g.Status != client.GameCompleted {
		return string(g.Status)
	}
	return fmt.Sprintf("%d-%d", g.AwayScore, g.HomeScore)
}

var overviewCmd = &cobra.Command{
	Use:   "overview",
	Short: "Show the season overview as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := c.get(cmd.Context(), "/overview")
		if err != nil {
			return err
		}
		var ov any
		if err := decodeJSON(resp, &ov); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), ov)
	},
}

// --- achievements ---

var achievementsCmd = &cobra.Command{
	Use:   "achievements",
	Short: "List achievements with their completion state",
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, _ := cmd.Flags().GetString("type")
		rarity, _ := cmd.Flags().GetString("rarity")
		completed, _ := cmd.Flags().GetString("completed")

		c, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := c.get(cmd.Context(), query("/achievements",
			"type", strings.ToUpper(typ), "rarity", strings.ToUpper(rarity), "completed", completed, "size", "100"))
		if err != nil {
			return err
		}
		var page client.Page[struct {
			client.Achievement
			State string `json:"state"`
		}]
		if err := decodeJSON(resp, &page); err != nil {
			return err
		}

		rows := make([]string, len(page.Content))
		for i, a := range page.Content {
			rows[i] = fmt.Sprintf("%s\t%s\t%s\t%s", a.ID, stateLabel(a.State), a.Rarity, a.Description)
		}
		return table(cmd.OutOrStdout(), "ID\tSTATE\tRARITY\tDESCRIPTION", rows)
	},
}

func init() {
	achievementsCmd.Flags().String("type", "", "filter by type")
	achievementsCmd.Flags().String("rarity", "", "filter by rarity")
	achievementsCmd.Flags().String("completed", "", "filter by completion (true/false)")
}

func stateLabel(state string) string {
	switch state {
	case "completed":
		return colorize(colorGreen, state)
	case "pending":
		return colorize(colorYellow, state)
	}
	return state
}

var completeCmd = &cobra.Command{
	Use:   "complete <achievement-id>",
	Short: "Complete an achievement or submit it for approval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")

		c, err := newAPIClient()
		if err != nil {
			return err
		}
		var body any
		if reason != "" {
			body = map[string]string{"reason": reason}
		}
		resp, err := c.post(cmd.Context(), "/achievements/"+url.PathEscape(args[0])+"/complete", body)
		if err != nil {
			return err
		}
		accepted := resp.StatusCode == http.StatusAccepted
		var res struct {
			RequestID string `json:"requestId"`
			Message   string `json:"message"`
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		if accepted {
			printSuccess("Submitted %s for approval (request %s)", args[0], res.RequestID)
			return nil
		}
		printSuccess("Completed %s", args[0])
		return nil
	},
}

func init() {
	completeCmd.Flags().String("reason", "", "justification sent with the request")
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Show completions waiting for approval and recent history",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := c.get(cmd.Context(), "/pending")
		if err != nil {
			return err
		}
		var p pendingInfo
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(p.Pending) == 0 {
			fmt.Fprintln(out, "Nothing pending.")
		} else {
			rows := make([]string, len(p.Pending))
			for i, e := range p.Pending {
				rows[i] = fmt.Sprintf("%s\t%s", e.AchievementID, e.RequestID)
			}
			if err := table(out, "ACHIEVEMENT\tREQUEST", rows); err != nil {
				return err
			}
		}
		if len(p.History) > 0 {
			fmt.Fprintln(out)
			rows := make([]string, len(p.History))
			for i, h := range p.History {
				rows[i] = fmt.Sprintf("%s\t%s\t%s\t%s", h.RequestID, h.AchievementID, stateLabel(h.Status), h.Message)
			}
			return table(out, "REQUEST\tACHIEVEMENT\tSTATUS\tMESSAGE", rows)
		}
		return nil
	},
}

// --- notifications and inbox ---

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Show the notification feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := c.get(cmd.Context(), "/notifications")
		if err != nil {
			return err
		}
		var st struct {
			Feed []struct {
				Origin       string              `json:"origin"`
				Notification client.Notification `json:"notification"`
			} `json:"notifications"`
			InboxCount int    `json:"inboxCount"`
			Error      string `json:"error"`
		}
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}
		if st.Error != "" {
			printWarning("%s", st.Error)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %d\n", colorize(colorBold, "Inbox:"), st.InboxCount)
		for _, it := range st.Feed {
			n := it.Notification
			marker := " "
			if !n.IsRead {
				marker = colorize(colorCyan, "•")
			}
			fmt.Fprintf(out, "%s %s  %s  %s\n", marker, n.ID, colorize(colorBold, n.Title), n.Message)
		}
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read [notification-id]",
	Short: "Mark a notification, or all with --all, as read",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if !all && len(args) == 0 {
			return fmt.Errorf("a notification id or --all is required")
		}

		c, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/notifications/read-all"
		if !all {
			path = "/notifications/" + url.PathEscape(args[0]) + "/read"
		}
		resp, err := c.post(cmd.Context(), path, nil)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Marked as read")
		return nil
	},
}

func init() {
	readCmd.Flags().Bool("all", false, "mark every notification as read")
}

func reviewCmd(action, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   action + " <request-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			notes, _ := cmd.Flags().GetString("notes")

			c, err := newAPIClient()
			if err != nil {
				return err
			}
			resp, err := c.post(cmd.Context(), "/inbox/"+url.PathEscape(args[0])+"/"+action, map[string]string{"notes": notes})
			if err != nil {
				return err
			}
			var res client.ReviewResult
			if err := decodeJSON(resp, &res); err != nil {
				return err
			}
			printSuccess("%s", res.Message)
			return nil
		},
	}
	cmd.Flags().String("notes", "", "review notes")
	return cmd
}

var (
	approveCmd = reviewCmd("approve", "Approve an achievement request (commissioner)")
	rejectCmd  = reviewCmd("reject", "Reject an achievement request (commissioner)")
)

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			mark := ""
			if k.IsDefault {
				mark = colorize(colorCyan, " (default)")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s%s\n", colorize(colorBold, k.Key), k.Value, mark)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
