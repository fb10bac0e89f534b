package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/sexpc/pkg/epc"
)

var (
	methodsAddr    string
	methodsTimeout time.Duration
)

var methodsCmd = &cobra.Command{
	Use:   "methods",
	Short: "List the methods a running EPC server exposes",
	RunE:  runMethods,
}

func init() {
	methodsCmd.Flags().StringVar(&methodsAddr, "addr", "127.0.0.1:9789", "server address")
	methodsCmd.Flags().DurationVar(&methodsTimeout, "timeout", 30*time.Second, "query timeout")
}

func runMethods(cmd *cobra.Command, args []string) error {
	ctx, cancel := timeoutContext(cmd, methodsTimeout)
	defer cancel()

	m, err := epc.Connect(ctx, methodsAddr)
	if err != nil {
		return err
	}
	defer m.Stop()

	descs, err := m.QueryMethodsSync(ctx)
	if err != nil {
		return err
	}

	for _, d := range descs {
		line := string(d.Name)
		if d.ArgSpec != "" {
			line += " " + d.ArgSpec
		}
		if d.Docstring != "" {
			line += "  ; " + d.Docstring
		}
		fmt.Println(line)
	}
	return nil
}
