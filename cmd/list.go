package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/hcisnoop/fields"
	"github.com/Zerofisher/hcisnoop/hci"
	"github.com/Zerofisher/hcisnoop/ringbuf"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List available resources",
	Long:    `List supported packet types, packet fields, and configured buffers.`,
	GroupID: "info",
}

var listTypesCmd = &cobra.Command{
	Use:     "types",
	Short:   "List the HCI packet types the framer recognizes",
	Long:    `Display the H4 type tag and header layout of each recognized packet type.`,
	Example: `  hcisnoop list types`,
	RunE:    runListTypes,
}

// fields subcommand flags
var listFieldsFilter string

var listFieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "List available packet fields",
	Long:  `Display a list of fields that can be extracted with "read fields".`,
	Example: `  hcisnoop list fields
  hcisnoop list fields --filter acl`,
	RunE: runListFields,
}

var listBuffersCmd = &cobra.Command{
	Use:     "buffers",
	Short:   "List configured buffers",
	Long:    `Display the buffer names known from the configuration file.`,
	Example: `  hcisnoop list buffers --config hcisnoop.yaml`,
	RunE:    runListBuffers,
}

func init() {
	// fields flags
	listFieldsCmd.Flags().StringVar(&listFieldsFilter, "filter", "",
		"Filter fields by name pattern")

	listCmd.AddCommand(listTypesCmd)
	listCmd.AddCommand(listFieldsCmd)
	listCmd.AddCommand(listBuffersCmd)
}

// runListTypes lists the packet shapes
func runListTypes(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-6s %-6s %-7s %s\n", "Tag", "Type", "Header", "Length field")
	fmt.Fprintln(out, strings.Repeat("-", 50))
	for _, s := range hci.Shapes {
		fmt.Fprintf(out, "0x%02x   %-6s %-7d offset %d, %d byte(s)\n",
			s.Tag, s.Name, s.HeaderLen, s.LenOffset, s.LenWidth)
	}
	return nil
}

// runListFields lists available packet fields
func runListFields(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	registry := fields.NewRegistry()
	fieldList := registry.List()

	// Filter if pattern specified
	if listFieldsFilter != "" {
		filtered := make([]string, 0)
		for _, name := range fieldList {
			if strings.Contains(strings.ToLower(name), strings.ToLower(listFieldsFilter)) {
				filtered = append(filtered, name)
			}
		}
		fieldList = filtered
	}

	fmt.Fprintln(out, "Available fields:")
	fmt.Fprintln(out, "Name\t\tType\tDescription")
	fmt.Fprintln(out, strings.Repeat("-", 70))

	for _, name := range fieldList {
		if info := registry.GetFieldInfo(name); info != "" {
			fmt.Fprintln(out, info)
		}
	}

	if len(fieldList) == 0 && listFieldsFilter != "" {
		fmt.Fprintf(out, "No fields matching '%s' found.\n", listFieldsFilter)
	}

	return nil
}

// runListBuffers lists configured buffers
func runListBuffers(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(cfg.Buffers) == 0 {
		fmt.Fprintln(out, "No buffers configured.")
		return nil
	}
	for _, b := range cfg.Buffers {
		if b.Static() {
			d := ringbuf.Descriptor{Base: b.Base, Capacity: b.Capacity, Head: b.Head, Tail: b.Tail}
			fmt.Fprintf(out, "%s\tstatic\t%s\n", b.Name, d)
			continue
		}
		fmt.Fprintf(out, "%s\tcircbuf at 0x%x\n", b.Name, b.Address)
	}
	return nil
}
