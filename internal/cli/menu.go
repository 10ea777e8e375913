package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ksyq12/mtlsctl/internal/config"
	"github.com/ksyq12/mtlsctl/internal/input"
	"github.com/ksyq12/mtlsctl/internal/output"
)

var menuCmd = &cobra.Command{
	Use:   "menu",
	Short: "Interactive menu over the same operations",
	Long: `Prompt for an operation and its arguments, run it, and return to the
menu. Every entry runs the same code as the matching subcommand.`,
	Args: cobra.NoArgs,
	RunE: runMenu,
}

func init() {
	rootCmd.AddCommand(menuCmd)
}

// menuAction is one entry of the closed set of menu operations
type menuAction struct {
	label string
	run   func(cmd *cobra.Command, p *input.Prompter) error
}

var menuActions = []menuAction{
	{"Ensure root CA", menuEnsureCA},
	{"Issue internal certificate", menuIssueClient},
	{"Issue public certificate", menuIssuePublic},
	{"Renew all certificates", menuRenewAll},
	{"Certificate status", menuStatus},
	{"Configure proxy", menuConfigureProxy},
	{"Quit", nil},
}

func runMenu(cmd *cobra.Command, args []string) error {
	p := input.NewPrompter(deps.StdinReader, cmd.OutOrStdout())
	labels := make([]string, len(menuActions))
	for i, a := range menuActions {
		labels[i] = a.label
	}

	for {
		choice, err := p.Choose("What do you want to do?", labels)
		if errors.Is(err, input.ErrNoInput) {
			return nil
		}
		if err != nil {
			return err
		}
		action := menuActions[choice]
		if action.run == nil {
			return nil
		}
		if err := action.run(cmd, p); err != nil {
			if errors.Is(err, input.ErrNoInput) {
				return nil
			}
			reportError(err)
		}
		output.Print("")
	}
}

func menuEnsureCA(cmd *cobra.Command, p *input.Prompter) error {
	days, err := p.Ask("CA validity in days (empty for default)", "")
	if err != nil {
		return err
	}
	caDays = 0
	if days != "" {
		if caDays, err = intArg([]string{days}, 0, 0, "days"); err != nil {
			return err
		}
	}
	return runEnsureCA(cmd, nil)
}

func menuIssueClient(cmd *cobra.Command, p *input.Prompter) error {
	name, err := p.Required("Identity name")
	if err != nil {
		return err
	}
	roles := config.ValidRoles()
	i, err := p.Choose("Role", roles)
	if err != nil {
		return err
	}
	days, err := p.Ask("Validity in days (empty for default)", "")
	if err != nil {
		return err
	}
	issueRole = roles[i]
	issueHostnames = nil
	if issueRole == config.RoleServer {
		hosts, err := p.Ask("Extra hostnames, comma separated", "")
		if err != nil {
			return err
		}
		issueHostnames = splitList(hosts)
	}

	args := []string{name}
	if days != "" {
		args = append(args, days)
	}
	return runIssueClient(cmd, args)
}

func menuIssuePublic(cmd *cobra.Command, p *input.Prompter) error {
	domain, err := p.Required("Domain")
	if err != nil {
		return err
	}
	email, err := p.Required("Contact email")
	if err != nil {
		return err
	}
	strategies := config.ValidStrategies()
	i, err := p.Choose("Challenge strategy", strategies)
	if err != nil {
		return err
	}
	return runIssuePublic(cmd, []string{domain, email, strategies[i]})
}

func menuRenewAll(cmd *cobra.Command, _ *input.Prompter) error {
	return runRenewAll(cmd, nil)
}

func menuStatus(cmd *cobra.Command, p *input.Prompter) error {
	subject, err := p.Required("Domain, identity name or \"ca\"")
	if err != nil {
		return err
	}
	return runCertificateStatus(cmd, []string{subject})
}

func menuConfigureProxy(cmd *cobra.Command, p *input.Prompter) error {
	domain, err := p.Required("Domain")
	if err != nil {
		return err
	}
	modes := config.ValidVerifyModes()
	i, err := p.Choose("Client verification", modes)
	if err != nil {
		return err
	}
	dry, err := p.Confirm("Dry run only?", true)
	if err != nil {
		return err
	}
	proxyVerify = modes[i]
	proxyBackend = ""
	proxyBackName = ""
	dryRun = dry
	return runConfigureProxy(cmd, []string{domain})
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
