package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/c8ef/CS111/fserrors"
)

// initConfig binds the environment variables the core library already
// reads directly (V6IMG names a default image path when a subcommand's
// positional argument is omitted; CRASH_AT is disk.FileDisk's write-count
// crash-injection hook) through viper, the way
// deploymenttheory-go-apfs's internal/disk/dmg.go binds its own
// APFS_*-prefixed environment into config. CRASH_AT still takes effect
// the moment the process starts — disk.FileDisk reads it directly via
// os.Getenv at package init, before any command runs — so this binding
// only makes it visible for the CLI's own reporting, not a second
// enforcement point.
func initConfig() {
	viper.SetEnvPrefix("JFSUTIL")
	viper.BindEnv("image", "V6IMG")
	viper.BindEnv("crash_at", "CRASH_AT")
	viper.AutomaticEnv()
}

func init() {
	cobra.OnInitialize(initConfig)
}

// imagePath resolves a subcommand's image argument: the positional arg if
// given, else V6IMG, else an error naming both.
func imagePath(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if v := viper.GetString("image"); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("no image path given and V6IMG is not set: %w", fserrors.ErrInvalidArgument)
}
