package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/KevinKickass/OpenSensorCore/internal/auth"
	"github.com/KevinKickass/OpenSensorCore/internal/devices"
	"github.com/KevinKickass/OpenSensorCore/internal/sensor"
	"github.com/KevinKickass/OpenSensorCore/internal/sensors"
	"github.com/KevinKickass/OpenSensorCore/internal/timing"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRootCmd() *cobra.Command {
	var searchPaths []string

	root := &cobra.Command{
		Use:           "sensorctl",
		Short:         "Inspect sensor descriptors and manage OpenSensorCore credentials",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringSliceVarP(&searchPaths, "search-path", "s", nil, "Descriptor directory searched before the built-ins (repeatable)")

	loader := func() (*devices.DescriptorLoader, error) {
		return devices.NewDescriptorLoader(searchPaths, sensors.FS(), zap.NewNop())
	}

	root.AddCommand(
		newListCmd(loader),
		newExportCmd(loader),
		newValidateCmd(loader),
		newAgainCmd(loader),
		newVTSCmd(loader),
		newTokenCmd(),
		newHashPasswordCmd(),
	)
	return root
}

type loaderFunc func() (*devices.DescriptorLoader, error)

func loadDescriptor(loader loaderFunc, name string) (*sensor.Descriptor, error) {
	l, err := loader()
	if err != nil {
		return nil, err
	}
	return l.Load(name)
}

func newListCmd(loader loaderFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available descriptors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := loader()
			if err != nil {
				return err
			}
			for _, name := range l.Available() {
				desc, err := l.Load(name)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%-12s INVALID: %v\n", name, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s chip=%s modes=%d addr=0x%02x\n",
					name, desc.ExpectedChipID(), len(desc.Modes), desc.BusAddress)
			}
			return nil
		},
	}
}

func newExportCmd(loader loaderFunc) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export NAME",
		Short: "Print a descriptor as json, yaml or toml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := devices.ParseFormat(format)
			if err != nil {
				return err
			}
			desc, err := loadDescriptor(loader, args[0])
			if err != nil {
				return err
			}
			data, err := devices.Encode(f, desc)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format: json, yaml or toml")
	return cmd
}

func newValidateCmd(loader loaderFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check descriptor files against the schema",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := loader()
			if err != nil {
				return err
			}
			failed := 0
			for _, file := range args {
				format, ok := devices.FormatOf(file)
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: unknown extension\n", file)
					failed++
					continue
				}
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				desc, err := l.Decode(format, data)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", file, err)
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s)\n", file, desc.Name)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d descriptors invalid", failed, len(args))
			}
			return nil
		},
	}
}

func newAgainCmd(loader loaderFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "again NAME GAIN",
		Short: "Show the analog gain code allocated for a requested gain",
		Long:  "GAIN is log2 fixed point, 65536 per doubling, as the ISP requests it.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := loadDescriptor(loader, args[0])
			if err != nil {
				return err
			}
			requested, err := strconv.ParseUint(args[1], 0, 32)
			if err != nil {
				return fmt.Errorf("invalid gain %q: %w", args[1], err)
			}
			entry, achieved := desc.AgainLUT.Alloc(uint32(requested), desc.Attribute.MaxAgain)
			fmt.Fprintf(cmd.OutOrStdout(), "code=%d gain=%d\n", entry.Code, achieved)
			return nil
		},
	}
}

func newVTSCmd(loader loaderFunc) *cobra.Command {
	var (
		mode int
		hts  uint32
		fps  string
	)
	cmd := &cobra.Command{
		Use:   "vts NAME",
		Short: "Compute the vertical total for a frame rate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := loadDescriptor(loader, args[0])
			if err != nil {
				return err
			}
			if mode < 0 || mode >= len(desc.Modes) {
				return fmt.Errorf("mode %d out of range, %s has %d", mode, desc.Name, len(desc.Modes))
			}
			rate, err := parseRate(fps)
			if err != nil {
				return err
			}
			m := desc.Modes[mode]
			if hts == 0 {
				hts = m.TotalWidth
			}

			c := timing.Constraints{
				PixelClock:     m.PixelClock,
				MinFPS:         m.MinFPS,
				MaxFPS:         m.MaxFPS,
				BlankingMargin: desc.BlankingMargin,
			}
			plan, err := c.NewPlan(rate, hts)
			if err != nil {
				return err
			}
			raw, err := desc.VTS.Raw(plan.VTS)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mode=%s fps=%s hts=%d vts=%d register=0x%x max_integration=%d period=%s\n",
				m.Name, rate, plan.HTS, plan.VTS, raw, plan.MaxIntegration,
				timing.RealizedPeriod(m.PixelClock, plan.HTS, plan.VTS))
			return nil
		},
	}
	cmd.Flags().IntVarP(&mode, "mode", "m", 0, "Window setting index")
	cmd.Flags().Uint32Var(&hts, "hts", 0, "Horizontal total; defaults to the mode's total width")
	cmd.Flags().StringVar(&fps, "fps", "30", "Frame rate, N or N/D")
	return cmd
}

func parseRate(s string) (timing.Rational, error) {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseUint(num, 10, 16)
	if err != nil {
		return timing.Rational{}, fmt.Errorf("invalid frame rate %q: %w", s, err)
	}
	d := uint64(1)
	if found {
		if d, err = strconv.ParseUint(den, 10, 16); err != nil || d == 0 {
			return timing.Rational{}, fmt.Errorf("invalid frame rate %q", s)
		}
	}
	return timing.Rational{Num: uint32(n), Den: uint32(d)}, nil
}

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token NAME",
		Short: "Generate a machine token and the hash to configure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, hash, err := auth.NewMachineTokenGenerator().GenerateMachineToken()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "token: %s\n\n", token)
			fmt.Fprintf(out, "auth:\n  machine_tokens:\n    - name: %s\n      token_hash: %s\n      permissions: [operator, technician]\n", args[0], hash)
			return nil
		},
	}
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [PASSWORD]",
		Short: "Hash a password with argon2id for the users section",
		Long:  "Reads the password from standard input when not given as an argument.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return fmt.Errorf("empty password")
			}

			hash, err := auth.NewPasswordHasher().HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
