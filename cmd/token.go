package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/rh360-attendance/internal/config"
	"github.com/kozaktomas/rh360-attendance/internal/web/middleware"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin bearer token",
	Long: `Issue an HS256 bearer token for the admin endpoints (record deletion,
employee deletion and deactivation), signed with WEB_ADMIN_SECRET.

Examples:
  rh360-attendance token --subject rrhh --ttl 8h
  curl -H "Authorization: Bearer $(rh360-attendance token)" -X DELETE .../api/v1/attendance/records/<id>`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().String("subject", "admin", "Who the token is issued to (logged on admin actions)")
	tokenCmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cfg.Web.AdminSecret == "" {
		return errors.New("WEB_ADMIN_SECRET environment variable is required")
	}

	ttl := mustGetDuration(cmd, "ttl")
	if ttl <= 0 {
		return errors.New("--ttl must be positive")
	}

	token, err := middleware.IssueAdminToken([]byte(cfg.Web.AdminSecret), mustGetString(cmd, "subject"), ttl)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	fmt.Println(token)
	return nil
}
