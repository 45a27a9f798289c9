// Command lambdify runs built-in demos of the expression JIT: a Taylor
// integration of the Van der Pol oscillator and an IR dump of a compiled
// expression.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"lambdify/internal/codegen"
	"lambdify/internal/expr"
)

var (
	optLevel uint
	verbose  bool
)

func main() {
	root := &cobra.Command{
		Use:   "lambdify",
		Short: "Symbolic-expression JIT and Taylor-integration demos",
		PersistentPreRun: func(*cobra.Command, []string) {
			if verbose {
				slog.SetLogLoggerLevel(slog.LevelDebug)
			}
		},
	}
	root.PersistentFlags().UintVar(&optLevel, "opt", 3, "optimisation level (0-3)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.AddCommand(vanderpolCmd(), dumpCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func vanderpolCmd() *cobra.Command {
	var (
		tstep float64
		order uint32
		steps int
		mu    float64
	)
	cmd := &cobra.Command{
		Use:   "vanderpol",
		Short: "Integrate the Van der Pol oscillator with the Taylor stepper",
		RunE: func(*cobra.Command, []string) error {
			x, y := expr.Var("x"), expr.Var("y")
			sys := []expr.Expr{
				y,
				expr.Sub(expr.Mul(expr.Mul(expr.Num(mu), expr.Sub(expr.Num(1), expr.Mul(x, x.Clone()))), y.Clone()), x.Clone()),
			}

			cg, err := codegen.New("vanderpol", optLevel)
			if err != nil {
				return err
			}
			if err := cg.AddTaylor("step", sys, order); err != nil {
				return err
			}
			if err := cg.Compile(); err != nil {
				return err
			}
			step, err := cg.FetchTaylor("step")
			if err != nil {
				return err
			}

			state := []float64{1, 2}
			fmt.Printf("t=%-8.4f x=%-12.8f y=%-12.8f\n", 0.0, state[0], state[1])
			for i := 1; i <= steps; i++ {
				step(state, tstep, order)
				fmt.Printf("t=%-8.4f x=%-12.8f y=%-12.8f\n", float64(i)*tstep, state[0], state[1])
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&tstep, "tstep", 0.01, "integration timestep")
	cmd.Flags().Uint32Var(&order, "order", 20, "Taylor order")
	cmd.Flags().IntVar(&steps, "steps", 100, "number of steps")
	cmd.Flags().Float64Var(&mu, "mu", 1, "damping parameter")
	return cmd
}

func dumpCmd() *cobra.Command {
	var function string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Lower cos(x)*x + sin(y)/2 and print the module IR",
		RunE: func(*cobra.Command, []string) error {
			x, y := expr.Var("x"), expr.Var("y")
			e := expr.Add(expr.Mul(expr.Cos(x), x.Clone()), expr.Div(expr.Sin(y), expr.Num(2)))

			cg, err := codegen.New("dump", optLevel)
			if err != nil {
				return err
			}
			if err := cg.AddExpression("f", e, 0); err != nil {
				return err
			}
			var out string
			if function != "" {
				out, err = cg.DumpFunction(function)
			} else {
				out, err = cg.Dump()
			}
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&function, "function", "", "dump a single function instead of the module")
	return cmd
}
