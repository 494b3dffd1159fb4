package cli

import (
	"github.com/spf13/cobra"

	"github.com/nooga/arrayify/pkg/vm"
)

// KindInfo describes one storage kind of the lattice.
type KindInfo struct {
	Kind     string            `json:"kind"`
	Rank     int               `json:"rank"`
	Supports []string          `json:"supports"`
	Next     map[string]string `json:"next"`
}

// NewKindsCommand creates the kinds command.
func NewKindsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "Print the storage-kind lattice",
		Long: `Print every storage kind in lattice order together with the operations
it can serve and the kind an arrayify would move to for each operation.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutputFormatter(rootOpts.Format, cmd.OutOrStdout())
			infos := kindTable()
			if out.JSON() {
				if err := out.Encode(infos); err != nil {
					return WrapExitError(ExitFailure, "failed to encode output", err)
				}
				return nil
			}
			printKinds(out)
			return nil
		},
	}
}

func kindTable() []KindInfo {
	infos := make([]KindInfo, 0, len(vm.AllKinds()))
	for i, k := range vm.AllKinds() {
		info := KindInfo{Kind: k.String(), Rank: i, Supports: []string{}, Next: map[string]string{}}
		for _, op := range vm.AllOperations() {
			if vm.CanSatisfy(k, op) {
				info.Supports = append(info.Supports, op.String())
			} else {
				info.Next[op.String()] = vm.NextKind(k, op).String()
			}
		}
		infos = append(infos, info)
	}
	return infos
}

// printKinds writes the CanSatisfy matrix, one row per kind. A cell is "ok"
// when the kind serves the operation, otherwise the kind it must become.
func printKinds(out *OutputFormatter) {
	out.Printf("%-14s", "")
	for _, op := range vm.AllOperations() {
		out.Printf(" %-34s", op)
	}
	out.Printf("\n")
	for _, k := range vm.AllKinds() {
		out.Printf("%-14s", k)
		for _, op := range vm.AllOperations() {
			cell := "ok"
			if !vm.CanSatisfy(k, op) {
				cell = "-> " + vm.NextKind(k, op).String()
			}
			out.Printf(" %-34s", cell)
		}
		out.Printf("\n")
	}
}
