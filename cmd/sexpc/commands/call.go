package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/sexpc/pkg/epc"
	"github.com/marmos91/sexpc/pkg/sexp"
)

var (
	callAddr    string
	callTimeout time.Duration
)

var callCmd = &cobra.Command{
	Use:   "call METHOD [ARG...]",
	Short: "Call a method on a running EPC server",
	Long: `Call a method on a running EPC server and print the reply.

Each ARG is parsed as an s-expression, so strings need shell-escaped
quotes.

Examples:
  sexpc call --addr 127.0.0.1:9789 echo '"hi"'
  sexpc call --addr 127.0.0.1:9789 add 1 2 3`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVar(&callAddr, "addr", "127.0.0.1:9789", "server address")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 30*time.Second, "call timeout")
}

func runCall(cmd *cobra.Command, args []string) error {
	method := sexp.Symbol(args[0])

	callArgs := make([]sexp.Value, 0, len(args)-1)
	for _, raw := range args[1:] {
		v, err := sexp.ReadString(raw)
		if err != nil {
			return fmt.Errorf("bad argument %q: %w", raw, err)
		}
		callArgs = append(callArgs, v)
	}

	ctx, cancel := timeoutContext(cmd, callTimeout)
	defer cancel()

	m, err := epc.Connect(ctx, callAddr)
	if err != nil {
		return err
	}
	defer m.Stop()

	result, err := m.CallSync(ctx, method, callArgs...)
	if err != nil {
		return err
	}

	fmt.Println(sexp.Print(result))
	return nil
}
