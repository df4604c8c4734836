package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/mas-assistant/internal/app"
	"github.com/suPer8Hu/mas-assistant/internal/assistant"
	"github.com/suPer8Hu/mas-assistant/internal/profile"
)

type askFlags struct {
	role           string
	customRole     string
	topic          string
	customTopic    string
	identification string
	email          string
	dataAccess     []string
	stream         bool
}

func (f askFlags) profile() profile.UserProfile {
	return profile.UserProfile{
		Role:           profile.Role(f.role),
		CustomRole:     f.customRole,
		Topic:          f.topic,
		CustomTopic:    f.customTopic,
		Identification: profile.Identification(f.identification),
		Email:          f.email,
		DataAccess:     f.dataAccess,
	}
}

func newAskCmd(e *env) *cobra.Command {
	var f askFlags
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Send one message through the routing pipeline",
		Long: `Send one message through classification, context assembly and the
selected model backend, then print the reply. Nothing is persisted.

Examples:
  masctl ask "How do I set up a board committee?" --topic governance
  masctl ask "What are my open activities?" --identification email --email jane@example.org
  masctl ask "Draft a donor thank-you email" --stream`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Build(e.cfg, e.log, app.Options{})
			if err != nil {
				return fmt.Errorf("build assistant: %w", err)
			}
			defer a.Close()

			p := f.profile()
			req := assistant.Request{Message: strings.Join(args, " "), Profile: &p}
			out := cmd.OutOrStdout()

			var resp assistant.Response
			if f.stream {
				chunks, done, err := a.Orchestrator.StreamMessage(cmd.Context(), req)
				if err != nil {
					return err
				}
				for c := range chunks {
					fmt.Fprint(out, c)
				}
				fmt.Fprintln(out)
				resp = <-done
			} else {
				resp, err = a.Orchestrator.ProcessMessage(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, resp.Text)
			}

			if e.verbose {
				fmt.Fprintf(cmd.ErrOrStderr(), "\nslot=%s backend=%s model=%s tokens=%d crm=%t kb=%t fallback=%t latency=%s\n",
					resp.Slot, resp.Provider, resp.Model, resp.TokensUsed,
					resp.HadCRMData, resp.HadKnowledgeBase, resp.Fallback, resp.Latency)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.role, "role", string(profile.RoleClient), "user role")
	cmd.Flags().StringVar(&f.customRole, "custom-role", "", "role text when --role other")
	cmd.Flags().StringVar(&f.topic, "topic", "planning", "topic of interest")
	cmd.Flags().StringVar(&f.customTopic, "custom-topic", "", "topic text when --topic other")
	cmd.Flags().StringVar(&f.identification, "identification", string(profile.IdentAnonymous), "email, microsoft-login or anonymous")
	cmd.Flags().StringVar(&f.email, "email", "", "contact email")
	cmd.Flags().StringSliceVar(&f.dataAccess, "access", nil, "data access tiers")
	cmd.Flags().BoolVar(&f.stream, "stream", false, "print the reply as it streams")
	return cmd
}
