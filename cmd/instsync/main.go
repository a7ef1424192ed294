package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/msageha/instsync/internal/daemon"
	"github.com/msageha/instsync/internal/model"
	"github.com/msageha/instsync/internal/setup"
	"github.com/msageha/instsync/internal/status"
	"github.com/msageha/instsync/internal/uds"
	yamlutil "github.com/msageha/instsync/internal/yaml"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "setup":
		runSetup(os.Args[2:])
	case "daemon":
		runDaemon(os.Args[2:])
	case "stop":
		runStop(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "scan":
		runScan(os.Args[2:])
	case "tasks":
		runTasks(os.Args[2:])
	case "deploy":
		runDeploy(os.Args[2:])
	case "sync-response":
		runSyncResponse(os.Args[2:])
	case "version":
		fmt.Printf("instsync %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runTasks(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: instsync tasks <create|list|reset|delete|cleanup|state> [options]")
		os.Exit(1)
	}
	switch args[0] {
	case "create":
		runTasksCreate(args[1:])
	case "list":
		runTasksList(args[1:])
	case "reset":
		runTasksReset(args[1:])
	case "delete":
		runTasksDelete(args[1:])
	case "cleanup":
		runTasksCleanup(args[1:])
	case "state":
		runTasksState(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown tasks subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func runSetup(args []string) {
	flags, pos, err := parseFlags(args, "--name")
	if err != nil || len(pos) != 1 {
		fmt.Fprintln(os.Stderr, "usage: instsync setup <project_dir> [--name <project_name>]")
		os.Exit(1)
	}
	if err := setup.Run(pos[0], flags["--name"]); err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("initialized %s\n", filepath.Join(pos[0], setup.DataDirName))
}

func runDaemon(_ []string) {
	dataDir := requireDataDir()

	cfg, err := setup.LoadConfig(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	d, err := daemon.New(dataDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create daemon: %v\n", err)
		os.Exit(1)
	}
	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

func runStatus(args []string) {
	jsonOutput := false
	for _, a := range args {
		if a == "--json" {
			jsonOutput = true
		}
	}
	if err := status.Run(context.Background(), requireDataDir(), jsonOutput, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
}

func runStop(_ []string) {
	call("stop", uds.CommandShutdown, nil)
}

func runScan(_ []string) {
	call("scan", uds.CommandScan, nil)
}

func runTasksCreate(args []string) {
	_, pos, err := parseFlags(args)
	if err != nil || len(pos) != 1 {
		fmt.Fprintln(os.Stderr, "usage: instsync tasks create <infra_mapping_id>")
		os.Exit(1)
	}
	call("tasks create", uds.CommandCreateTasks, uds.MappingParams{InfraMappingID: pos[0]})
}

func runTasksList(args []string) {
	flags, pos, err := parseFlags(args, "--account", "--mapping")
	if err != nil || len(pos) != 0 || flags["--account"] == "" {
		fmt.Fprintln(os.Stderr, "usage: instsync tasks list --account <account_id> [--mapping <infra_mapping_id>]")
		os.Exit(1)
	}
	call("tasks list", uds.CommandListTasks, uds.TaskListParams{
		AccountID:      flags["--account"],
		InfraMappingID: flags["--mapping"],
	})
}

func runTasksReset(args []string) {
	flags, pos, err := parseFlags(args, "--account")
	if err != nil || len(pos) != 1 || flags["--account"] == "" {
		fmt.Fprintln(os.Stderr, "usage: instsync tasks reset --account <account_id> <task_id>")
		os.Exit(1)
	}
	call("tasks reset", uds.CommandResetTask, uds.TaskParams{AccountID: flags["--account"], TaskID: pos[0]})
}

func runTasksDelete(args []string) {
	flags, pos, err := parseFlags(args, "--account", "--mapping")
	if err != nil || len(pos) != 0 || flags["--account"] == "" || flags["--mapping"] == "" {
		fmt.Fprintln(os.Stderr, "usage: instsync tasks delete --account <account_id> --mapping <infra_mapping_id>")
		os.Exit(1)
	}
	call("tasks delete", uds.CommandDeleteTasks, uds.DeleteTasksParams{
		AccountID:      flags["--account"],
		InfraMappingID: flags["--mapping"],
	})
}

func runTasksCleanup(args []string) {
	flags, pos, err := parseFlags(args, "--account", "--type")
	if err != nil || len(pos) != 0 || flags["--account"] == "" || flags["--type"] == "" {
		fmt.Fprintln(os.Stderr, "usage: instsync tasks cleanup --account <account_id> --type <task_type>")
		os.Exit(1)
	}
	call("tasks cleanup", uds.CommandCleanupInvalid, uds.CleanupParams{
		AccountID: flags["--account"],
		TaskType:  model.TaskType(flags["--type"]),
	})
}

func runTasksState(args []string) {
	_, pos, err := parseFlags(args)
	if err != nil || len(pos) != 2 {
		fmt.Fprintln(os.Stderr, "usage: instsync tasks state <task_id> <TASK_UNASSIGNED|TASK_ASSIGNED|TASK_PAUSED|TASK_INVALID>")
		os.Exit(1)
	}
	call("tasks state", uds.CommandSetState, uds.SetStateParams{TaskID: pos[0], State: model.TaskState(pos[1])})
}

// runDeploy sends a deployment batch file straight to the daemon instead of
// going through the intake directory.
func runDeploy(args []string) {
	_, pos, err := parseFlags(args)
	if err != nil || len(pos) != 1 {
		fmt.Fprintln(os.Stderr, "usage: instsync deploy <batch.yaml>")
		os.Exit(1)
	}

	var batch model.DeploymentBatch
	if err := yamlutil.Load(pos[0], yamlutil.FileTypeDeploymentBatch, &batch); err != nil {
		fmt.Fprintf(os.Stderr, "deploy: %v\n", err)
		os.Exit(1)
	}
	call("deploy", uds.CommandNewDeployment, uds.NewDeploymentParams{
		InfraMappingID: batch.InfraMappingID,
		Summaries:      batch.Summaries,
	})
}

func runSyncResponse(args []string) {
	flags, pos, err := parseFlags(args, "--error")
	if err != nil || len(pos) != 1 {
		fmt.Fprintln(os.Stderr, "usage: instsync sync-response <task_id> [--error <message>]")
		os.Exit(1)
	}
	call("sync-response", uds.CommandSyncResponse, uds.SyncResponseParams{
		TaskID: pos[0],
		Response: model.SyncResponse{
			Success:      flags["--error"] == "",
			ErrorMessage: flags["--error"],
		},
	})
}

// parseFlags splits args into "--name value" pairs for the given names and
// positional arguments.
func parseFlags(args []string, names ...string) (map[string]string, []string, error) {
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	flags := make(map[string]string)
	var pos []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "--") {
			pos = append(pos, a)
			continue
		}
		if !known[a] {
			return nil, nil, fmt.Errorf("unknown flag: %s", a)
		}
		if i+1 >= len(args) {
			return nil, nil, fmt.Errorf("%s requires a value", a)
		}
		flags[a] = args[i+1]
		i++
	}
	return flags, pos, nil
}

func requireDataDir() string {
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "getwd: %v\n", err)
		os.Exit(1)
	}
	dataDir := setup.FindDataDir(cwd)
	if dataDir == "" {
		fmt.Fprintf(os.Stderr, "error: %s/ directory not found. Run 'instsync setup <dir>' first.\n", setup.DataDirName)
		os.Exit(1)
	}
	return dataDir
}

// call sends one command to the daemon and prints the response data as
// indented JSON.
func call(name, command string, params any) {
	client := uds.NewClient(filepath.Join(requireDataDir(), uds.DefaultSocketName))

	var data json.RawMessage
	if err := client.Call(command, params, &data); err != nil {
		var detail *uds.ErrorDetail
		if errors.As(err, &detail) {
			fmt.Fprintf(os.Stderr, "%s failed [%s]: %s\n", name, detail.Code, detail.Message)
		} else {
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		}
		os.Exit(1)
	}
	if len(data) == 0 {
		return
	}
	out, _ := json.MarshalIndent(data, "", "  ")
	fmt.Println(string(out))
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `instsync %s: instance-sync perpetual task manager

Usage: instsync <command> [options]

Setup:
  setup <dir> [--name <name>]       Initialize .instsync/ directory
  daemon                            Run daemon process
  stop                              Ask the daemon to shut down
  status [--json]                   Show daemon, intake and mapping status

Tasks (CLI → Daemon):
  scan                                              Bootstrap tasks for mappings without any
  tasks create <mapping>                            Bulk-create tasks for a mapping
  tasks list --account <id> [--mapping <id>]        List tasks
  tasks reset --account <id> <task>                 Reset a task
  tasks delete --account <id> --mapping <id>        Delete all tasks of a mapping
  tasks cleanup --account <id> --type <task_type>   Delete invalid tasks of a type
  tasks state <task> <state>                        Set a task's state
  deploy <batch.yaml>                               Reconcile a deployment batch
  sync-response <task> [--error <msg>]              Report a task execution result

Utilities:
  version           Show version
  help              Show this help

`, version)
}
