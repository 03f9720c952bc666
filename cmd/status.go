package cmd

import (
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	pkgoauth "assetauth/pkg/oauth"
	textutil "assetauth/pkg/strings"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [asset...]",
		Short: "Show the stored credentials of assets",
		Long: `Show the token and authorization state stored for each configured asset.

Status only reads the stored documents. It never contacts the token endpoint
and never clears state left behind by a different client id.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			defer reg.Close()

			ids := args
			if len(ids) == 0 {
				ids = reg.assetIDs()
			}
			if len(ids) == 0 {
				cmd.Println(text.FgYellow.Sprint("No assets configured"))
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{
				text.FgHiCyan.Sprint("ASSET"),
				text.FgHiCyan.Sprint("GRANT"),
				text.FgHiCyan.Sprint("TOKEN"),
				text.FgHiCyan.Sprint("EXPIRES"),
				text.FgHiCyan.Sprint("REFRESH"),
				text.FgHiCyan.Sprint("SESSION"),
			})

			now := time.Now()
			for _, id := range ids {
				a, err := reg.asset(id)
				if err != nil {
					return err
				}
				c, err := reg.client(id)
				if err != nil {
					return err
				}
				state, err := c.LoadState(cmd.Context())
				if err != nil {
					return err
				}
				t.AppendRow(statusRow(id, string(a.GrantType), a.OAuth.ClientID, state, c.IsExpired, now))
			}
			t.Render()
			return nil
		},
	}
}

func statusRow(id, grant, clientID string, state *pkgoauth.State, expired func(*pkgoauth.Token) bool, now time.Time) table.Row {
	if state.ClientID != "" && state.ClientID != clientID && (state.Token != nil || state.Session != nil) {
		return table.Row{id, grant, text.FgYellow.Sprint("client changed"), "-", "-", "-"}
	}

	tokenCol, expiresCol, refreshCol := text.FgRed.Sprint("none"), "-", "-"
	if tok := state.Token; tok != nil {
		tokenCol = text.FgGreen.Sprint("valid")
		if expired(tok) {
			tokenCol = text.FgYellow.Sprint("expired")
		}
		expiresCol = formatExpiry(tok.ExpiresAt, now)
		refreshCol = "no"
		if tok.RefreshToken != "" {
			refreshCol = "yes"
		}
	}

	sessionCol := "-"
	if s := state.Session; s != nil {
		switch {
		case s.Failed():
			sessionCol = text.FgRed.Sprintf("failed: %s", textutil.SingleLine(s.Error, 40))
		case s.AuthComplete:
			sessionCol = "completed"
		default:
			sessionCol = "pending since " + s.CreatedAt.Local().Format(time.Kitchen)
		}
	}
	return table.Row{id, grant, tokenCol, expiresCol, refreshCol, sessionCol}
}
