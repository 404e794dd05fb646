package main

import (
	"io"
	"log"
	"os"
	"strings"

	"github.com/awer25/pandaop/logging"
	"github.com/awer25/pandaop/safety"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	portSettingName      string = "port"
	logFileSettingName   string = "log-file"
	modeSettingName      string = "mode"
	paramSettingName     string = "param"
	bitrateSettingName   string = "bitrate"
	busSettingName       string = "bus"
	speedUnitSettingName string = "speed-unit"
)

var (
	settingsFile string
	port         string
	logFile      string
	quiet        bool
	verbose      bool
)

var logSink io.WriteCloser

func init() {
	cobra.OnInitialize(func() {
		if err := loadSettings(); err != nil {
			log.Fatal(err)
		}
		applySettings(rootCmd)
	})

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&settingsFile, "settings", "", "YAML settings file whose keys default the flags (default $HOME/.pandaop.yaml)")
	pf.StringVar(&port, portSettingName, "", "SLCAN adapter device, e.g. /dev/ttyACM0 or COM3")
	pf.BoolVarP(&quiet, "quiet", "q", false, "suppress debug logging even with --verbose")
	pf.BoolVarP(&verbose, "verbose", "v", false, "log frame-level engine and adapter activity")
	pf.StringVar(&logFile, logFileSettingName, "", "copy verbose logging into this size-rotated file")
}

func main() {
	err := rootCmd.Execute()
	if logSink != nil {
		logSink.Close()
	}
	if err != nil {
		log.Fatal(err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pandaop",
	Short: "Check CAN safety modes against recorded drives or a live SLCAN adapter",
	Long: `pandaop runs frames through a vehicle safety mode and reports what the
gatekeeper would have blocked. Flags may be defaulted from the settings file
or from PANDAOP_* environment variables.`,
	SilenceErrors: true,
}

// loadSettings reads the settings file when there is one. A missing default
// file is not an error; it is created the first time a port is chosen.
func loadSettings() error {
	viper.SetEnvPrefix("pandaop")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if settingsFile != "" {
		viper.SetConfigFile(settingsFile)
		return errors.Wrapf(viper.ReadInConfig(), "reading settings %s", settingsFile)
	}

	home, err := homedir.Dir()
	if err != nil {
		return errors.Wrap(err, "locating home directory")
	}
	viper.AddConfigPath(home)
	viper.SetConfigName(".pandaop")
	viper.SetConfigType("yaml")

	err = viper.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
		return nil
	}
	return errors.Wrap(err, "reading settings")
}

// applySettings fills every flag the command line left unset from the
// settings, walking the whole command tree.
func applySettings(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed || !viper.IsSet(f.Name) {
			return
		}
		if v := viper.GetString(f.Name); v != "" {
			fs.Set(f.Name, v)
		}
	})
	for _, sub := range cmd.Commands() {
		applySettings(sub)
	}
}

// cliLogger returns the debug logger for verbose runs, teeing into the
// rotated log file when one is configured.
func cliLogger(cmd *cobra.Command) logging.Logger {
	if !verbose || quiet {
		return logging.NopLogger
	}

	out := cmd.OutOrStdout()
	if logFile != "" {
		if logSink == nil {
			logSink = logging.RotatingWriter(logFile, 10, 3, 28)
		}
		out = io.MultiWriter(out, logSink)
	}
	return logging.DefaultLogger(out)
}

// profileFlags are the mode and param flags shared by replay and monitor.
type profileFlags struct {
	mode  string
	param uint16
}

func (p *profileFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&p.mode, modeSettingName, "", "safety mode name or number. See 'pandaop modes'")
	fs.Uint16Var(&p.param, paramSettingName, 0, "safety param word for the mode")
}

func (p *profileFlags) parse() (safety.Mode, error) {
	if p.mode == "" {
		return 0, errors.New("the mode setting is required")
	}
	return safety.ParseMode(p.mode)
}
