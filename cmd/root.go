package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rh360-attendance",
	Short: "Employee attendance with facial, QR and manual verification",
	Long: `RH360 Attendance records employee entries and exits identified by face,
by the RUT encoded in a national ID card QR code, or manually by RUT,
employee code or name. Kiosks that lose connectivity queue events and
synchronize them later.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
