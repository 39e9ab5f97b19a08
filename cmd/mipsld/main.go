// Command mipsld is the CLI front end for the bare-metal MIPS PIC dynamic
// linker: loading images, inspecting their layout, looking up symbols, and
// (via internal/mipsemu) actually running them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zboralski/mipsld/internal/config"
	"github.com/zboralski/mipsld/internal/dll"
	"github.com/zboralski/mipsld/internal/linkerr"
	"github.com/zboralski/mipsld/internal/log"
	"github.com/zboralski/mipsld/internal/mipsemu"
	"github.com/zboralski/mipsld/internal/script"
	"github.com/zboralski/mipsld/internal/symmap"
	"github.com/zboralski/mipsld/internal/watch"
)

var (
	cfgPath        string
	debug          bool
	modeFlag       string
	symbolMapFlag  string
	resolverScript string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mipsld",
		Short: "Minimal dynamic linker for position-independent MIPS shared objects",
		Long: `mipsld loads and fixes up position-independent MIPS shared objects the way
a bare-metal rld would: parsing .dynamic, installing the GOT, resolving
external references (lazily or eagerly), and running constructors.

Examples:
  mipsld info libfoo.mso                  # dump layout without fixing up
  mipsld load libfoo.mso --symmap nm.txt  # load and fix up, lazily
  mipsld sym libfoo.mso puts              # resolve one symbol by name
  mipsld run libfoo.mso --entry main      # load and actually execute it
  mipsld watch libfoo.mso --entry main    # same, with a live GOT TUI`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a mipsld.yaml config file")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "v", false, "verbose debug logging")
	rootCmd.PersistentFlags().StringVar(&modeFlag, "mode", "lazy", "resolve mode: lazy or now")
	rootCmd.PersistentFlags().StringVar(&symbolMapFlag, "symmap", "", "path to an nm-style symbol map")
	rootCmd.PersistentFlags().StringVar(&resolverScript, "resolver", "", "path to a JS resolver script (internal/script)")

	rootCmd.AddCommand(
		infoCmd(),
		loadCmd(),
		symCmd(),
		symmapCmd(),
		runCmd(),
		watchCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup() error {
	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if debug {
		cfg.Debug = true
	}
	if modeFlag != "" && modeFlag != "lazy" {
		cfg.Mode = modeFlag
	}
	if symbolMapFlag != "" {
		cfg.SymbolMap = symbolMapFlag
	}
	if resolverScript != "" {
		cfg.ResolverScript = resolverScript
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	modeFlag = cfg.Mode

	log.Init(cfg.Debug)
	dll.ActiveFileLoader = dll.MmapFileLoader{}

	if cfg.SymbolMap != "" {
		text, err := os.ReadFile(cfg.SymbolMap)
		if err != nil {
			return fmt.Errorf("read symbol map %s: %w", cfg.SymbolMap, err)
		}
		n, err := symmap.ParseSymbolMap(text)
		if err != nil {
			return fmt.Errorf("parse symbol map %s: %w", cfg.SymbolMap, err)
		}
		fmt.Printf("loaded %d symbols from %s\n", n, cfg.SymbolMap)
	}

	if cfg.ResolverScript != "" {
		src, err := os.ReadFile(cfg.ResolverScript)
		if err != nil {
			return fmt.Errorf("read resolver script %s: %w", cfg.ResolverScript, err)
		}
		r, err := script.New(string(src))
		if err != nil {
			return fmt.Errorf("compile resolver script %s: %w", cfg.ResolverScript, err)
		}
		dll.SetResolveCallback(r.Callback())
	}

	return nil
}

func resolveMode() dll.Mode {
	if modeFlag == "now" {
		return dll.NOW
	}
	return dll.LAZY
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <image>",
		Short: "Dump .dynamic layout and symbol counts without fixing up",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			info, err := dll.Inspect(buf)
			if err != nil {
				return reportLinkErr(err)
			}
			fmt.Printf("image:        %s (%d bytes)\n", args[0], info.ImageSize)
			fmt.Printf("got:          offset 0x%x, length %d\n", info.GotOffset, info.GotLength)
			fmt.Printf("hash:         offset 0x%x\n", info.HashOffset)
			fmt.Printf("dynsym:       offset 0x%x, %d symbols\n", info.SymtabOffset, info.SymbolCount)
			fmt.Printf("dynstr:       offset 0x%x\n", info.StrtabOffset)
			fmt.Printf("first_gotsym: %d\n", info.FirstGotSym)
			fmt.Printf("local_gotno:  %d\n", info.LocalGotno)
			return nil
		},
	}
}

func loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load <image>",
		Short: "Load an image and apply its fixups (constructors are not executed)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setup(); err != nil {
				return err
			}
			d, err := dll.Open(args[0], resolveMode())
			if err != nil {
				return reportLinkErr(err)
			}
			defer dll.Close(d)
			fmt.Printf("loaded %s: base=0x%x size=%d got_length=%d session=%s\n",
				args[0], d.Base(), d.Size(), d.GotLength(), d.SessionID)
			return nil
		},
	}
}

func symCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sym <image> <name>",
		Short: "Resolve one symbol by name against a loaded image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setup(); err != nil {
				return err
			}
			d, err := dll.Open(args[0], resolveMode())
			if err != nil {
				return reportLinkErr(err)
			}
			defer dll.Close(d)

			addr, err := dll.Sym(d, args[1])
			if err != nil {
				return reportLinkErr(err)
			}
			fmt.Printf("%s = 0x%08x\n", args[1], addr)
			return nil
		},
	}
}

func symmapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "symmap <nm-dump>",
		Short: "Parse and load an nm-style symbol map, reporting the accepted count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			n, err := symmap.ParseSymbolMap(text)
			if err != nil {
				return reportLinkErr(err)
			}
			fmt.Printf("accepted %d symbols from %s\n", n, args[0])
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	var entry string
	cmd := &cobra.Command{
		Use:   "run <image>",
		Short: "Load an image and execute it from a named entry symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setup(); err != nil {
				return err
			}
			d, emu, err := loadAndWire(args[0])
			if err != nil {
				return err
			}
			defer dll.Close(d)
			defer emu.Close()

			addr, err := dll.Sym(d, entry)
			if err != nil {
				return reportLinkErr(err)
			}
			fmt.Printf("calling %s @ 0x%08x\n", entry, addr)
			if err := emu.Call(addr); err != nil {
				return fmt.Errorf("run %s: %w", entry, err)
			}
			fmt.Println("returned")
			return nil
		},
	}
	cmd.Flags().StringVar(&entry, "entry", "main", "exported symbol to call after loading")
	return cmd
}

func watchCmd() *cobra.Command {
	var entry string
	cmd := &cobra.Command{
		Use:   "watch <image>",
		Short: "Load an image, execute it, and show GOT/resolve activity live",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setup(); err != nil {
				return err
			}

			events := make(chan watch.ResolveEvent, 64)
			log.L.SetOnResolve(func(slot uint32, addr uint64, name string, lazy bool) {
				select {
				case events <- watch.ResolveEvent{Slot: slot, Name: name, Addr: uint32(addr), Lazy: lazy}:
				default:
				}
			})

			d, emu, err := loadAndWire(args[0])
			if err != nil {
				return err
			}
			defer dll.Close(d)
			defer emu.Close()

			go func() {
				if addr, err := dll.Sym(d, entry); err == nil {
					_ = emu.Call(addr)
				}
				close(events)
			}()

			return watch.Run(d, events)
		},
	}
	cmd.Flags().StringVar(&entry, "entry", "main", "exported symbol to call after loading")
	return cmd
}

// loadAndWire reads path itself (rather than going through dll.Open) so the
// same buffer can be handed to both dll.LoadForExec and the emulator's
// LoadImage, which maps it at a real, non-zero runtime address
// (mipsemu.ImageBase) so GOT/symbol relocation is genuinely exercised.
//
// Fixups run via LoadForExec first, then the now-fixed-up buffer is mapped
// into the emulator, and only then do constructors run: emu.Wire() points
// dll.CallFunction at the emulated core, so a constructor call before
// LoadImage would execute against unmapped emulator memory and fault.
func loadAndWire(path string) (*dll.Descriptor, *mipsemu.Emulator, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	emu, err := mipsemu.New()
	if err != nil {
		return nil, nil, fmt.Errorf("create emulator: %w", err)
	}
	emu.Wire()

	d, err := dll.LoadForExec(buf, mipsemu.ImageBase, resolveMode())
	if err != nil {
		emu.Close()
		return nil, nil, reportLinkErr(err)
	}
	if err := emu.LoadImage(d, buf); err != nil {
		dll.Close(d)
		emu.Close()
		return nil, nil, fmt.Errorf("load image into emulator: %w", err)
	}
	dll.RunConstructors(d)
	return d, emu, nil
}

// reportLinkErr drains the process-wide error channel (spec §4.8/§7) so the
// CLI surfaces the same reason a caller polling linkerr.Last would see,
// rather than just err's own (identical) message.
func reportLinkErr(err error) error {
	linkerr.Last() // clear it; err already carries the same message
	return err
}
