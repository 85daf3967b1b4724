package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/scanconsole/internal/session"
)

var (
	sessionEmail    string
	sessionPassword string
	sessionOTP      string
)

// loginCmd represents the login command.
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the scanning backend",
	Long: `Exchange your email and password for a session token. The token and
the backend's last-login timestamp are stored locally and used by every
scan until you log out or the backend rejects the token.`,
	Example: `  scanconsole login --email op@example.com --password '...'
  SCANCONSOLE_PASSWORD='...' scanconsole login --email op@example.com
  echo '...' | scanconsole login --email op@example.com --password -`,
	RunE: runLogin,
}

// registerCmd represents the register command.
var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account",
	Long: `Register a new account. The backend emails a one-time code which you
confirm with 'scanconsole verify'.`,
	Example: `  scanconsole register --email op@example.com --password '...'`,
	RunE:    runRegister,
}

// verifyCmd represents the verify command.
var verifyCmd = &cobra.Command{
	Use:     "verify",
	Short:   "Confirm a registration with the emailed one-time code",
	Example: `  scanconsole verify --email op@example.com --otp 123456`,
	RunE:    runVerify,
}

// logoutCmd represents the logout command.
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE:  runLogout,
}

// statusCmd represents the status command.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(loginCmd, registerCmd, verifyCmd, logoutCmd, statusCmd)

	for _, cmd := range []*cobra.Command{loginCmd, registerCmd} {
		cmd.Flags().StringVar(&sessionEmail, "email", "", "account email")
		cmd.Flags().StringVar(&sessionPassword, "password", "", "account password, '-' reads it from stdin")
	}
	verifyCmd.Flags().StringVar(&sessionEmail, "email", "", "account email")
	verifyCmd.Flags().StringVar(&sessionOTP, "otp", "", "six-digit code from the registration email")
}

// readPassword resolves the password from the flag, stdin or SCANCONSOLE_PASSWORD.
func readPassword(in io.Reader) (string, error) {
	switch sessionPassword {
	case "-":
		data, err := io.ReadAll(io.LimitReader(in, 4096))
		if err != nil {
			return "", fmt.Errorf("failed to read password from stdin: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	case "":
		return viper.GetString("password"), nil
	default:
		return sessionPassword, nil
	}
}

func credentialsForm(cmd *cobra.Command) (session.CredentialsForm, error) {
	password, err := readPassword(cmd.InOrStdin())
	if err != nil {
		return session.CredentialsForm{}, err
	}
	form := session.CredentialsForm{Email: strings.TrimSpace(sessionEmail), Password: password}
	return form, form.Validate()
}

func runLogin(cmd *cobra.Command, _ []string) error {
	form, err := credentialsForm(cmd)
	if err != nil {
		return err
	}

	return withApp(cmd.Context(), appOptions{}, func(a *app) error {
		state, err := a.session.Login(cmd.Context(), form.Email, form.Password)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Logged in.")
		fmt.Fprintf(out, "Last login: %s\n", state.LastLoginDisplay())
		return nil
	})
}

func runRegister(cmd *cobra.Command, _ []string) error {
	form, err := credentialsForm(cmd)
	if err != nil {
		return err
	}

	return withApp(cmd.Context(), appOptions{}, func(a *app) error {
		return printOutcome(cmd, a.session.Register(cmd.Context(), form.Email, form.Password))
	})
}

func runVerify(cmd *cobra.Command, _ []string) error {
	form := session.VerifyForm{Email: strings.TrimSpace(sessionEmail), OTP: strings.TrimSpace(sessionOTP)}
	if err := form.Validate(); err != nil {
		return err
	}

	return withApp(cmd.Context(), appOptions{}, func(a *app) error {
		return printOutcome(cmd, a.session.Verify(cmd.Context(), form.Email, form.OTP))
	})
}

// printOutcome prints the backend's message; a failed outcome becomes the
// command's error so the exit status reflects it.
func printOutcome(cmd *cobra.Command, out session.Outcome) error {
	if !out.Success {
		return errors.New(out.Message)
	}
	fmt.Fprintln(cmd.OutOrStdout(), out.Message)
	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), appOptions{}, func(a *app) error {
		if err := a.session.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
		return nil
	})
}

func runStatus(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), appOptions{}, func(a *app) error {
		printState(cmd.OutOrStdout(), a.cfg.Backend.BaseURL, a.session.State())
		return nil
	})
}

func printState(out io.Writer, backendURL string, state session.State) {
	fmt.Fprintf(out, "Backend:    %s\n", backendURL)
	if !state.IsAuthenticated {
		fmt.Fprintln(out, "Session:    not logged in")
		return
	}
	fmt.Fprintln(out, "Session:    logged in")
	fmt.Fprintf(out, "Last login: %s\n", state.LastLoginDisplay())
}
