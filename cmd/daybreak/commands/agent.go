package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/daybreak/internal/logging"
)

const pidFileName = "daybreak.pid"

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage the background agent",
	Long:  `Start, stop, or check status of the daybreak background agent.`,
}

var agentStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the background agent",
	Long: `Start the daybreak agent as a background process.

The agent polls each configured account on its own interval, extracts
tasks from new items, and creates tasks or suggestions according to the
account's autonomy level.`,
	RunE: runAgentStart,
}

var agentStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background agent",
	Long:  `Stop the running daybreak agent by sending SIGTERM.`,
	RunE:  runAgentStop,
}

var agentStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check agent status",
	Long:  `Check if the daybreak agent is running and show per-account schedules.`,
	RunE:  runAgentStatus,
}

var agentForegroundFlag bool

func init() {
	agentStartCmd.Flags().BoolVarP(&agentForegroundFlag, "foreground", "f", false, "Run in foreground (don't daemonize)")
	agentCmd.AddCommand(agentStartCmd)
	agentCmd.AddCommand(agentStopCmd)
	agentCmd.AddCommand(agentStatusCmd)
	rootCmd.AddCommand(agentCmd)
}

// pidFilePath returns the path to the PID file.
func pidFilePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "daybreak", pidFileName)
}

// writePidFile writes the current process PID to the PID file.
func writePidFile() error {
	if err := os.MkdirAll(filepath.Dir(pidFilePath()), 0755); err != nil {
		return fmt.Errorf("creating pid dir: %w", err)
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(os.Getpid())), 0644)
}

// readPidFile reads the PID from the PID file.
func readPidFile() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}

func removePidFile() error {
	return os.Remove(pidFilePath())
}

// isProcessRunning checks if a process with the given PID is running.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; send signal 0 to check if alive
	err = process.Signal(syscall.Signal(0))
	return err == nil
}

func isAgentRunning() (bool, int) {
	pid, err := readPidFile()
	if err != nil {
		return false, 0
	}
	return isProcessRunning(pid), pid
}

func runAgentStart(cmd *cobra.Command, args []string) error {
	if running, pid := isAgentRunning(); running {
		return fmt.Errorf("agent already running (pid %d)", pid)
	}

	if agentForegroundFlag {
		return runAgentLoop()
	}

	// Daemonize: start a new process with --foreground flag
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("getting executable: %w", err)
	}

	childArgs := []string{"agent", "start", "--foreground"}
	if configFlag != "" {
		childArgs = append(childArgs, "--config", configFlag)
	}
	child := exec.Command(executable, childArgs...)
	child.Stdout = nil
	child.Stderr = nil
	child.Stdin = nil
	// Detach from parent process group
	child.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := child.Start(); err != nil {
		return fmt.Errorf("starting agent: %w", err)
	}

	fmt.Printf("agent started (pid %d)\n", child.Process.Pid)
	return nil
}

func runAgentLoop() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := logging.Init(cfg.Logging); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	log := logging.Component("agent")

	if err := writePidFile(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() { _ = removePidFile() }()

	log.Info("agent starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	if len(e.registry.Keys()) == 0 {
		return fmt.Errorf("no accounts available (check credentials and config)")
	}

	if err := e.scheduleAccounts(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("received signal %v, shutting down", sig)
		cancel()
	}()

	e.orch.Start()

	for _, key := range e.registry.Keys() {
		log.InfoCtx("account scheduled", map[string]any{
			"key":      key.String(),
			"next_run": e.orch.NextRun(key).Format(time.RFC3339),
		})
	}

	<-ctx.Done()

	e.orch.Stop()
	log.Info("agent stopped")
	return nil
}

func runAgentStop(cmd *cobra.Command, args []string) error {
	running, pid := isAgentRunning()
	if !running {
		if _, err := readPidFile(); err == nil {
			_ = removePidFile()
			fmt.Println("agent not running (stale pid file removed)")
			return nil
		}
		fmt.Println("agent not running")
		return nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process: %w", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM: %w", err)
	}

	fmt.Printf("stopping agent (pid %d)...\n", pid)

	timeout := time.After(10 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-timeout:
			fmt.Println("agent did not stop, sending SIGKILL")
			_ = process.Signal(syscall.SIGKILL)
			_ = removePidFile()
			return nil
		case <-tick.C:
			if !isProcessRunning(pid) {
				fmt.Println("agent stopped")
				_ = removePidFile()
				return nil
			}
		}
	}
}

func runAgentStatus(cmd *cobra.Command, args []string) error {
	running, pid := isAgentRunning()

	if !running {
		fmt.Println("Status: not running")
		return nil
	}

	fmt.Printf("Status: running\n")
	fmt.Printf("PID: %d\n", pid)

	cfg, err := loadConfig()
	if err == nil {
		for _, acct := range cfg.Accounts {
			fmt.Printf("Account: %s/%s every %s (%s)\n", acct.Source, acct.ID, acct.Interval, cfg.Level(acct))
		}
	}

	fmt.Printf("PID file: %s\n", pidFilePath())
	return nil
}
