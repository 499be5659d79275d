package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/nooga/hiddenclass/pkg/config"
	"github.com/nooga/hiddenclass/pkg/driver"
)

func main() {
	// Define flags
	configFlag := flag.String("config", "", "TOML file with heap and shape thresholds")
	exprFlag := flag.String("e", "", "Run the given script text and exit")
	logLevelFlag := flag.String("log-level", "", "Override log.level from the config (debug, info, warn, error)")
	statsFlag := flag.Bool("stats", false, "Print heap and shape statistics after execution")
	graphFlag := flag.Bool("graph", false, "Print the transition graph after execution")
	flag.Parse()

	cfg := config.Default()
	if *configFlag != "" {
		loaded, err := config.Load(*configFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %s\n", err)
			os.Exit(78) // Exit code 78: configuration error
		}
		cfg = loaded
	}
	if *logLevelFlag != "" {
		cfg.Log.Level = *logLevelFlag
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %s\n", err)
		os.Exit(78)
	}
	defer func() { _ = logger.Sync() }()

	session := driver.NewSession(cfg, logger, os.Stdout)
	ok := true
	switch {
	case *exprFlag != "":
		ok = session.DisplayResult(*exprFlag, session.RunString(*exprFlag))
	case flag.NArg() > 1:
		fmt.Fprintf(os.Stderr, "Usage: shapes [-config file.toml] [script] or shapes -e \"script\"\n")
		os.Exit(64) // Exit code 64: command line usage error
	case flag.NArg() == 1:
		source, errs := session.RunFile(flag.Arg(0))
		ok = session.DisplayResult(source, errs)
	default:
		runRepl(session, logger)
	}

	if *graphFlag {
		session.Isolate().DumpTransitions(os.Stdout)
	}
	if *statsFlag {
		session.RunString("stats")
	}
	if !ok {
		os.Exit(70) // Exit code 70: internal software error
	}
}

// runRepl starts the Read-Eval-Print Loop.
func runRepl(session *driver.Session, logger *zap.Logger) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Println("shapes (Ctrl+D to exit, \"help\" lists commands)")
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				break // Exit loop on EOF (Ctrl+D)
			}
			logger.Error("reading input", zap.Error(err))
			break
		}
		if line == "\n" {
			continue
		}
		_ = session.DisplayResult(line, session.RunString(line)) // Ignore the bool return in REPL
	}
}
