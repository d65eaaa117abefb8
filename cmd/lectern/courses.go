package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/lectern/internal/config"
)

var coursesCmd = &cobra.Command{
	Use:   "courses",
	Short: "List configured courses and their destination pages",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cfg := mgr.Get()

		names := cfg.CourseNames()
		if len(names) == 0 {
			fmt.Println("No courses configured. Add them under `courses:` in your config file.")
			return nil
		}
		for _, name := range names {
			fmt.Printf("%s\t%s\n", name, cfg.Courses[name])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(coursesCmd)
}
