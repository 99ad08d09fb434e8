// ABOUTME: frac subcommands exposing the rational engine
// ABOUTME: Reduce ratios, rescale timestamps and parse fraction text
package cli

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Resonate-Protocol/playclock/pkg/frac"
)

func newFracCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frac",
		Short: "Exact rational arithmetic helpers",
	}
	cmd.AddCommand(newFracReduceCmd(), newFracScaleCmd(), newFracParseCmd())
	return cmd
}

func newFracReduceCmd() *cobra.Command {
	var max int32

	cmd := &cobra.Command{
		Use:   "reduce NUM DEN",
		Short: "Reduce NUM/DEN to canonical form, approximating within --max",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			num, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("numerator: %w", err)
			}
			den, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("denominator: %w", err)
			}
			if max <= 0 {
				return fmt.Errorf("--max must be positive, got %d", max)
			}

			f, exact := frac.Reduce(num, den, max)
			label := "exact"
			if !exact {
				label = "approximate"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%v %s\n", f, label)
			return nil
		},
	}
	cmd.Flags().Int32Var(&max, "max", math.MaxInt32, "largest allowed numerator and denominator")
	return cmd
}

func newFracScaleCmd() *cobra.Command {
	var (
		round      string
		passMinMax bool
	)

	cmd := &cobra.Command{
		Use:   "scale VALUE RATIO",
		Short: "Compute VALUE*RATIO without intermediate overflow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			val, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("value: %w", err)
			}
			ratio, err := parseRatio(args[1])
			if err != nil {
				return err
			}
			rnd, err := parseRounding(round)
			if err != nil {
				return err
			}
			if passMinMax {
				rnd |= frac.RoundPassMinMax
			}

			fmt.Fprintln(cmd.OutOrStdout(), frac.MultiplyScaledTime(val, ratio.Num, ratio.Den, rnd))
			return nil
		},
	}
	cmd.Flags().StringVar(&round, "round", "near", "rounding: zero, inf, down, up, near")
	cmd.Flags().BoolVar(&passMinMax, "pass-minmax", false, "leave MinInt64 and MaxInt64 unchanged")
	return cmd
}

func newFracParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse TEXT",
		Short: "Parse a fraction, integer or decimal and print its canonical form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := frac.Parse(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%v = %g\n", f, f.Float64())
			return nil
		},
	}
}

// parseRatio reads "num/den" keeping the operands as written, since scaling
// is defined on the raw pair.
func parseRatio(s string) (frac.Frac, error) {
	numStr, denStr, ok := strings.Cut(s, "/")
	if !ok {
		denStr = "1"
	}
	num, err := strconv.ParseInt(strings.TrimSpace(numStr), 10, 32)
	if err != nil {
		return frac.Frac{}, fmt.Errorf("%w: ratio numerator %q", frac.ErrSyntax, numStr)
	}
	den, err := strconv.ParseInt(strings.TrimSpace(denStr), 10, 32)
	if err != nil {
		return frac.Frac{}, fmt.Errorf("%w: ratio denominator %q", frac.ErrSyntax, denStr)
	}
	return frac.Frac{Num: int32(num), Den: int32(den)}, nil
}

func parseRounding(s string) (frac.Rounding, error) {
	switch strings.ToLower(s) {
	case "zero":
		return frac.RoundZero, nil
	case "inf":
		return frac.RoundInf, nil
	case "down":
		return frac.RoundDown, nil
	case "up":
		return frac.RoundUp, nil
	case "near", "near-inf", "nearest":
		return frac.RoundNearInf, nil
	default:
		return 0, fmt.Errorf("unknown rounding %q", s)
	}
}
