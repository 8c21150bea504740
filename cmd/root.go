package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "classphoto-organizer",
	Short: "Sort classroom photos into per-student folders using face recognition",
	Long: `classphoto-organizer scans a tree of classroom photos, recognizes the
students in each photo against a reference set of labeled face images, and
copies each photo into a per-person output tree. Unrecognized faces are
clustered into anonymous groups under unknown_photos/.`,
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
