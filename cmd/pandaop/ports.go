package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/awer25/pandaop/protocols/slcan"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	adaptersCmd.AddCommand(adaptersListCmd)
	adaptersCmd.AddCommand(adaptersUseCmd)

	rootCmd.AddCommand(adaptersCmd)
}

var adaptersCmd = &cobra.Command{
	Use:     "adapters",
	Aliases: []string{"ports"},
	Short:   "Find SLCAN adapters and pick the one monitor talks to",
}

var adaptersListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the serial devices on this host",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := slcan.Ports()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no serial devices found")
			return nil
		}

		writePortTable(cmd.OutOrStdout(), ports, port)
		return nil
	},
}

// writePortTable prints one line per device, starring the current one.
func writePortTable(w io.Writer, ports []slcan.PortInfo, current string) {
	for i, p := range ports {
		mark := " "
		if p.PortName == current {
			mark = "*"
		}
		usb := "-"
		if p.IsUSB {
			usb = fmt.Sprintf("%s:%s", p.VendorID, p.ProductID)
		}
		fmt.Fprintf(w, "%s %2d  %-20s %-10s %s\n", mark, i, p.PortName, usb, p.Product)
	}
}

var adaptersUseCmd = &cobra.Command{
	Use:          "use [index]",
	Short:        "Save a device as the default --port",
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := slcan.Ports()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			return errors.New("no serial devices found")
		}

		var i int
		if len(args) == 1 {
			i, err = parseSelection(args[0])
		} else {
			writePortTable(cmd.OutOrStdout(), ports, port)
			fmt.Fprint(cmd.OutOrStdout(), "device index: ")
			i, err = readSelection(cmd.InOrStdin())
		}
		if err != nil {
			return err
		}
		if i < 0 || i >= len(ports) {
			return errors.Errorf("no device at index %d", i)
		}

		name := ports[i].PortName
		viper.Set(portSettingName, name)
		if err := saveSettings(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "default port is now %s\n", name)
		return nil
	},
}

// saveSettings writes the settings back, creating the default file when
// none was read.
func saveSettings() error {
	if viper.ConfigFileUsed() != "" {
		return errors.Wrap(viper.WriteConfig(), "writing settings")
	}
	return errors.Wrap(viper.SafeWriteConfig(), "creating settings")
}

func readSelection(r io.Reader) (int, error) {
	input, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && input == "" {
		return 0, errors.Wrap(err, "reading selection")
	}
	return parseSelection(input)
}

func parseSelection(s string) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrapf(err, "device index %q", strings.TrimSpace(s))
	}
	return i, nil
}
