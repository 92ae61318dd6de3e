// Command kernelctl drives the memory and process core from outside a
// real boot sequence: it assembles a buddy allocator, kernel heap, and
// an init process in memory, then runs one operation against them and
// prints the result. Each invocation is a fresh simulated machine —
// there is no persistent kernel process to attach to between commands.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/davidaparicio/maestro/config"
	"github.com/davidaparicio/maestro/limits"
	"github.com/davidaparicio/maestro/mem"
	"github.com/davidaparicio/maestro/memspace"
	"github.com/davidaparicio/maestro/metrics"
	"github.com/davidaparicio/maestro/proc"
)

// machine bundles the state a single command builds to stand in for a
// running kernel: a dmap-backed buddy allocator, a heap on top of it,
// and one bound address space for init.
type machine struct {
	dmap  *mem.Dmap
	alloc *mem.Allocator
	heap  *mem.Heap
	ms    *memspace.MemSpace
	init  *proc.Process
}

const machineFrames = 1 << 16 // 256MB of simulated physical memory at 4K frames

func newMachine() *machine {
	dmap := mem.NewDmap(machineFrames)
	alloc := mem.NewAllocator(dmap, 0, machineFrames)
	heap := mem.NewHeap(alloc)
	ms := memspace.New(alloc, dmap)
	ms.Bind()
	return &machine{dmap: dmap, alloc: alloc, heap: heap, ms: ms, init: proc.NewInit(ms)}
}

func main() {
	root := &cobra.Command{
		Use:   "kernelctl",
		Short: "Inspect and drive the memory/process core in isolation",
		Long: `kernelctl assembles the allocator, address space, and process
subsystems in memory and runs a single operation against them, for
exercising and demonstrating the core outside of a real boot.`,
	}

	root.AddCommand(newInitCmd())
	root.AddCommand(newForkCmd())
	root.AddCommand(newMmapCmd())
	root.AddCommand(newStatsCmd())
	root.AddCommand(newServeMetricsCmd())
	root.AddCommand(newConfigCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Boot a machine and report init's PID and state",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := newMachine()
			fmt.Printf("pid=%d state=%s frames=%d\n", m.init.Pid(), m.init.GetState(), machineFrames)
			return nil
		},
	}
}

func newForkCmd() *cobra.Command {
	var shareMemory, shareFD, shareSighand bool

	cmd := &cobra.Command{
		Use:   "fork",
		Short: "Fork init once and report the child's links",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := newMachine()
			child, err := proc.Fork(m.init, proc.ForkOptions{
				ShareMemory:  shareMemory,
				ShareFD:      shareFD,
				ShareSighand: shareSighand,
			})
			if err != 0 {
				return fmt.Errorf("fork: %s", err.Error())
			}
			fmt.Printf("child_pid=%d parent_pid=%d state=%s\n", child.Pid(), child.GetParentPid(), child.GetState())
			return nil
		},
	}
	cmd.Flags().BoolVar(&shareMemory, "share-memory", false, "share the parent's address space (vfork/clone CLONE_VM style)")
	cmd.Flags().BoolVar(&shareFD, "share-fd", false, "share the parent's file descriptor table")
	cmd.Flags().BoolVar(&shareSighand, "share-sighand", false, "share the parent's signal handler table")
	return cmd
}

func newMmapCmd() *cobra.Command {
	var addr uint64
	var pages uint
	var writable, exec bool

	cmd := &cobra.Command{
		Use:   "mmap",
		Short: "Map an anonymous region into init's address space",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := newMachine()
			prot := memspace.ProtRead
			if writable {
				prot |= memspace.ProtWrite
			}
			if exec {
				prot |= memspace.ProtExec
			}
			constraint := memspace.MapConstraint{Kind: memspace.ConstraintNone}
			if addr != 0 {
				constraint = memspace.MapConstraint{Kind: memspace.ConstraintFixed, Addr: mem.VirtAddr(addr)}
			}
			got, err := m.ms.Map(constraint, pages, prot, memspace.MapAnonymous|memspace.MapPrivate, nil, 0)
			if err != 0 {
				return fmt.Errorf("mmap: %s", err.Error())
			}
			fmt.Printf("mapped at=0x%x pages=%d\n", uintptr(got), pages)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&addr, "addr", 0, "fixed virtual address (0 lets the allocator choose)")
	cmd.Flags().UintVar(&pages, "pages", 1, "number of pages to map")
	cmd.Flags().BoolVar(&writable, "writable", true, "map the region writable")
	cmd.Flags().BoolVar(&exec, "exec", false, "map the region executable")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print allocator, heap, and scheduler counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := newMachine()
			if _, err := m.heap.Alloc(64); err != nil {
				return err
			}
			fmt.Printf("free_frames=%d\n", m.alloc.NumFreeFrames())
			for order, count := range m.alloc.FreeBlocksByOrder() {
				if count == 0 {
					continue
				}
				fmt.Printf("free_blocks[order=%d]=%d\n", order, count)
			}
			fmt.Printf("heap_bytes_in_use=%d\n", m.heap.BytesInUse())
			fmt.Printf("running_processes=%d\n", proc.RunningCount())
			fmt.Printf("syslimit_sysprocs=%d\n", limits.Syslimit.Sysprocs)
			return nil
		},
	}
}

func newServeMetricsCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Boot a machine and expose its counters on a prometheus endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := newMachine()
			reg := prometheus.NewRegistry()
			if err := reg.Register(metrics.NewCollector(m.alloc, m.heap)); err != nil {
				return err
			}
			http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			fmt.Fprintf(os.Stderr, "serving metrics on %s/metrics\n", addr)
			return http.ListenAndServe(addr, nil)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9400", "listen address for the metrics endpoint")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config <path>",
		Short: "Load a sysctl-style limits file and print the resolved values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := config.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("sysprocs=%d vnodes=%d futexes=%d arpents=%d routes=%d tcpsegs=%d blocks=%d kernel_heap=%d\n",
				n.Sysprocs, n.Vnodes, n.Futexes, n.Arpents, n.Routes, n.Tcpsegs, n.Blocks, int64(n.KernelHeap))
			return nil
		},
	}
	return cmd
}
