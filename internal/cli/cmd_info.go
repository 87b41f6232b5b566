package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/aegisorg/vm/internal/sizeutil"
	"github.com/aegisorg/vm/internal/vmstore"
)

// vmSummary is the shared JSON/text projection for `list` and `info`.
type vmSummary struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	PID        int32  `json:"pid,omitempty"`
	CPUCount   int    `json:"cpu_count"`
	MemorySize string `json:"memory_size"`
	DiskSize   string `json:"disk_size"`
	IPAddress  string `json:"ip_address,omitempty"`
	CreatedAt  string `json:"created_at"`
	ModifiedAt string `json:"modified_at"`
}

func (a *App) summarize(name string) (*vmSummary, error) {
	cfg, err := a.Store.LoadConfiguration(name)
	if err != nil {
		return nil, err
	}
	pid, running, err := a.Store.GetRunningPID(name)
	if err != nil {
		return nil, err
	}
	status := "stopped"
	if running {
		status = "running"
	}
	sum := &vmSummary{
		Name:       name,
		Status:     status,
		CPUCount:   cfg.CPUCount,
		MemorySize: sizeutil.Format(cfg.MemorySize),
		DiskSize:   sizeutil.Format(cfg.DiskSize),
		CreatedAt:  cfg.CreatedAt,
		ModifiedAt: cfg.ModifiedAt,
	}
	if running {
		sum.PID = pid
	}
	if netInfo, err := a.Store.LoadNetworkInfo(name); err == nil && netInfo != nil {
		if ip, ok := netInfo.PrimaryIPv4(); ok {
			sum.IPAddress = ip
		}
	}
	return sum, nil
}

// cmdList implements `vm list [--format text|json]`: excludes the reserved
// rescue VM from user listings (spec §3).
func (a *App) cmdList(args []string) error {
	s, err := scanArgs(args, map[string]bool{"format": true})
	if err != nil {
		return err
	}
	names, err := a.Store.ListVMs()
	if err != nil {
		return err
	}

	var summaries []*vmSummary
	for _, name := range names {
		if name == vmstore.RescueName {
			continue
		}
		sum, err := a.summarize(name)
		if err != nil {
			a.Log.Debug("skipping unreadable VM in list", "vm", name, "error", err)
			continue
		}
		summaries = append(summaries, sum)
	}

	if s.String("format", "text") == "json" {
		return printJSON(summaries)
	}

	if len(summaries) == 0 {
		fmt.Println("No VMs")
		return nil
	}

	fmt.Printf("%-20s %-10s %-6s %-10s %-10s %-16s\n", "NAME", "STATUS", "CPUS", "MEMORY", "DISK", "IP")
	for _, sum := range summaries {
		color := colorForStatus(sum.Status)
		statusStr := sum.Status
		if color != "" {
			statusStr = color + sum.Status + colorReset
		}
		pad := 10 + len(statusStr) - len(sum.Status)
		ip := sum.IPAddress
		if ip == "" {
			ip = "-"
		}
		fmt.Printf("%-20s %-*s %-6d %-10s %-10s %-16s\n", sum.Name, pad, statusStr, sum.CPUCount, sum.MemorySize, sum.DiskSize, ip)
	}
	return nil
}

// cmdInfo implements `vm info <name> [--format text|json]`.
func (a *App) cmdInfo(args []string) error {
	s, err := scanArgs(args, map[string]bool{"format": true})
	if err != nil {
		return err
	}
	pos := s.Positionals()
	if len(pos) != 1 {
		return fmt.Errorf("usage: vm info <name> [--format text|json]")
	}
	name := pos[0]

	sum, err := a.summarize(name)
	if err != nil {
		return err
	}

	if s.String("format", "text") == "json" {
		return printJSON(sum)
	}

	color := colorForStatus(sum.Status)
	statusStr := sum.Status
	if color != "" {
		statusStr = color + sum.Status + colorReset
	}
	fmt.Printf("Name:       %s\n", sum.Name)
	fmt.Printf("Status:     %s\n", statusStr)
	if sum.PID != 0 {
		fmt.Printf("PID:        %d\n", sum.PID)
	}
	fmt.Printf("CPUs:       %d\n", sum.CPUCount)
	fmt.Printf("Memory:     %s\n", sum.MemorySize)
	fmt.Printf("Disk:       %s\n", sum.DiskSize)
	if sum.IPAddress != "" {
		fmt.Printf("IP:         %s\n", sum.IPAddress)
	}
	fmt.Printf("Created:    %s\n", sum.CreatedAt)
	fmt.Printf("Modified:   %s\n", sum.ModifiedAt)

	if s.Bool("history") && a.Events != nil {
		history, err := a.Events.History(name)
		if err == nil && len(history) > 0 {
			fmt.Println("History:")
			for _, ev := range history {
				fmt.Printf("  %s  %-8s %v\n", ev.At.Format("2006-01-02 15:04:05"), ev.Action, ev.Succeeded)
			}
		}
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// cmdIP implements the hidden `vm ip <name>`: emits the bare address with
// no trailing newline, per spec §6.
func (a *App) cmdIP(args []string) error {
	s, err := scanArgs(args, map[string]bool{})
	if err != nil {
		return err
	}
	pos := s.Positionals()
	if len(pos) != 1 {
		return fmt.Errorf("usage: vm ip <name>")
	}
	name := pos[0]

	netInfo, err := a.Store.LoadNetworkInfo(name)
	if err != nil {
		return err
	}
	if netInfo == nil {
		return fmt.Errorf("no network info for %q yet", name)
	}
	ip, ok := netInfo.PrimaryIPv4()
	if !ok {
		return fmt.Errorf("no IPv4 address reported for %q", name)
	}
	fmt.Print(ip)
	return nil
}
