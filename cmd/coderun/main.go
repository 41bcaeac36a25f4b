package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/isdmx/codearena/apperr"
	"github.com/isdmx/codearena/cache"
	"github.com/isdmx/codearena/config"
	"github.com/isdmx/codearena/engine"
	"github.com/isdmx/codearena/engine/builtin"
	"github.com/isdmx/codearena/execution"
	"github.com/isdmx/codearena/logger"
	"github.com/isdmx/codearena/question"
	"github.com/isdmx/codearena/sandbox"
	"github.com/isdmx/codearena/security"
)

// expectQuestionID names the in-memory question built from --expect.
const expectQuestionID = "coderun-expect"

func main() {
	if err := newCommand(os.Stdout).Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

func newCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "coderun",
		Usage: "run and validate code with the codearena engines",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Value: "warn", Usage: "logger level"},
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "execute a source file",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "language", Aliases: []string{"l"}, Usage: "language identifier"},
					&cli.StringFlag{Name: "expect", Usage: "expected output to compare with"},
					&cli.StringFlag{Name: "input", Usage: "text passed on stdin"},
					&cli.IntFlag{Name: "timeout-ms", Usage: "wall-clock bound, capped by the engine maximum"},
					&cli.BoolFlag{Name: "json", Usage: "print the raw response"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runFile(ctx, cmd, out)
				},
			},
			{
				Name:      "validate",
				Usage:     "validate a source file without running it",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "language", Aliases: []string{"l"}, Usage: "language identifier"},
				},
				Action: func(_ context.Context, cmd *cli.Command) error {
					return validateFile(cmd, out)
				},
			},
			{
				Name:  "languages",
				Usage: "list the enabled languages",
				Action: func(_ context.Context, cmd *cli.Command) error {
					e, err := newEnv(cmd.String("log-level"))
					if err != nil {
						return err
					}
					defer e.close()
					for _, name := range e.registry.SortedLanguages() {
						eng, _ := e.registry.Get(name)
						meta := eng.Metadata()
						fmt.Fprintf(out, "%-12s %-20s %s\n", name, meta.Version, meta.MaxExecutionTime)
					}
					return nil
				},
			},
		},
	}
}

type env struct {
	logger   *zap.Logger
	registry *engine.Registry
	cache    *cache.Cache
	service  *execution.Service
}

func newEnv(level string) (*env, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}
	log, err := logger.New("development", level)
	if err != nil {
		return nil, err
	}

	sbCfg := &sandbox.Config{
		MemoryMB:       cfg.Sandbox.MemoryMB,
		NetworkEnabled: cfg.Sandbox.NetworkEnabled,
		PidsLimit:      cfg.Sandbox.PidsLimit,
		MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
		Images:         map[string]string{},
	}
	for name, lang := range cfg.Languages {
		if lang.Image != "" {
			sbCfg.Images[name] = lang.Image
		}
	}
	executor, err := sandbox.NewExecutor(log, sbCfg, cfg.Sandbox.Backend)
	if err != nil {
		return nil, err
	}

	// The sql engine needs a live database and is not available here.
	registry := builtin.NewRegistry(cfg, log, executor, nil)
	c := cache.New(cache.NewMemoryStore(0), log, cache.Options{TTLs: cache.DefaultTTLs()})
	return &env{
		logger:   log,
		registry: registry,
		cache:    c,
		service:  execution.NewService(log, registry, nil, c),
	}, nil
}

func (e *env) close() {
	_ = e.registry.Cleanup()
	_ = e.cache.Close()
	_ = e.logger.Sync()
}

func readSource(cmd *cli.Command) (path, code string, err error) {
	path = cmd.Args().First()
	if path == "" {
		return "", "", errors.New("a source FILE is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	return path, string(data), nil
}

// languageFor picks the language from the flag, then the file extension,
// then the source text.
func languageFor(registry *engine.Registry, flag, path, code string) string {
	if flag != "" {
		return flag
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext != "" {
		for _, name := range registry.SortedLanguages() {
			eng, _ := registry.Get(name)
			if exts := eng.Metadata().SupportedExtensions; exts != nil && exts.Contains(ext) {
				return name
			}
		}
	}
	return security.DetectLanguage(code)
}

func runFile(ctx context.Context, cmd *cli.Command, out io.Writer) error {
	path, code, err := readSource(cmd)
	if err != nil {
		return err
	}
	e, err := newEnv(cmd.Root().String("log-level"))
	if err != nil {
		return err
	}
	defer e.close()

	req := execution.Request{
		Code:      code,
		Language:  languageFor(e.registry, cmd.String("language"), path, code),
		Input:     cmd.String("input"),
		TimeoutMs: int(cmd.Int("timeout-ms")),
	}
	if cmd.IsSet("expect") {
		e.service = execution.NewService(e.logger, e.registry, expectRepository(req.Language, cmd.String("expect")), e.cache)
		req.QuestionID = expectQuestionID
	}

	resp, err := e.service.ExecuteCode(ctx, req, "")
	if err != nil {
		return describe(err)
	}

	if cmd.Bool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printResponse(out, resp)
	if !resp.Success || (resp.MatchesExpected != nil && !*resp.MatchesExpected) {
		return cli.Exit("", 1)
	}
	return nil
}

// expectRepository holds the single question built from --expect.
func expectRepository(language, answer string) question.Repository {
	return question.NewMemoryRepository(question.Question{
		ID:       expectQuestionID,
		Answer:   answer,
		Language: language,
		IsActive: true,
	})
}

func validateFile(cmd *cli.Command, out io.Writer) error {
	path, code, err := readSource(cmd)
	if err != nil {
		return err
	}
	e, err := newEnv(cmd.Root().String("log-level"))
	if err != nil {
		return err
	}
	defer e.close()

	if _, err := e.service.ValidateCode(code, languageFor(e.registry, cmd.String("language"), path, code)); err != nil {
		return describe(err)
	}
	fmt.Fprintln(out, color.GreenString("valid"))
	return nil
}

func printResponse(out io.Writer, resp *execution.Response) {
	result := resp.Result
	if result.Output != "" {
		fmt.Fprintln(out, result.Output)
	}
	if result.Error != "" {
		fmt.Fprintln(out, color.RedString(result.Error))
	}

	status := color.GreenString("OK")
	if !resp.Success {
		status = color.RedString("FAILED")
	}
	line := fmt.Sprintf("%s in %dms", status, resp.ExecutionTimeMs)
	if resp.MatchesExpected != nil {
		if *resp.MatchesExpected {
			line += ", " + color.GreenString("matches expected")
		} else {
			line += ", " + color.YellowString("does not match expected")
		}
	}
	fmt.Fprintln(out, line)
}

// describe renders a classified error with its rule and details.
func describe(err error) error {
	p := apperr.ToPayload(err)
	if p.Kind == apperr.KindUnexpected {
		return err
	}
	msg := fmt.Sprintf("%s: %s", p.Kind, p.Message)
	if p.Rule != "" {
		msg = fmt.Sprintf("%s [%s]: %s", p.Kind, p.Rule, p.Message)
	}
	if len(p.Details) > 0 {
		msg += "\n  " + strings.Join(p.Details, "\n  ")
	}
	return errors.New(msg)
}
