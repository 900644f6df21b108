package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/WFHTask/AI-interview/internal/evaluation"
	"github.com/WFHTask/AI-interview/internal/interview"
	"github.com/WFHTask/AI-interview/internal/logger"
)

const (
	PromptYes      = "Yes"
	PromptNo       = "No"
	quitCommand    = "/quit"
	terminalClient = "terminal"
)

var errQuit = errors.New("candidate left")

var interviewCmd = &cobra.Command{
	Use:   "interview",
	Short: "Run an interview in the terminal",
	Run: func(cmd *cobra.Command, _ []string) {
		runInterview(cmd)
	},
}

func init() {
	rootCmd.AddCommand(interviewCmd)

	interviewCmd.Flags().String("job", "", "job profile id to interview for")
	interviewCmd.Flags().String("name", "", "candidate name")
	interviewCmd.MarkFlagRequired("job")
	interviewCmd.SetOut(os.Stdout)
}

func runInterview(cmd *cobra.Command) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}
	defer logger.Sync()

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}
	if config == nil {
		logger.Fatal("config is required")
	}

	c, err := build(ctx, config, logger)
	if err != nil {
		logger.Fatal("wiring components", zap.Error(err))
	}
	defer func() {
		c.service.Wait()
		c.engine.Wait()
		if err := c.Close(); err != nil {
			logger.Warn("closing components", zap.Error(err))
		}
	}()

	jobID, _ := cmd.Flags().GetString("job")
	name, _ := cmd.Flags().GetString("name")
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Type %s to leave the interview.\n\nInterviewer: ", quitCommand)

	started, err := c.service.StartSession(ctx, jobID, name, printer(out))
	fmt.Fprintln(out)
	if err != nil {
		logger.Error("starting the interview", zap.String("job", jobID), zap.Error(err))
		return
	}
	sessionID := started.SessionID

	completed, err := converse(ctx, c, sessionID, out, logger)
	if err != nil {
		if errors.Is(err, errQuit) {
			if _, err := c.service.Abandon(ctx, sessionID, errQuit.Error()); err != nil {
				logger.Warn("abandoning the interview", zap.Error(err))
			}
			fmt.Fprintln(out, "Interview ended. Goodbye.")
			return
		}
		logger.Error("interview stopped", zap.String("session", sessionID), zap.Error(err))
		return
	}
	if !completed {
		return
	}

	result, err := c.service.Evaluate(ctx, sessionID)
	if err != nil {
		logger.Error("evaluating the interview", zap.String("session", sessionID), zap.Error(err))
		return
	}

	fmt.Fprintf(out, "\n%s\n\n", result.CandidateMessage)

	confirm := promptui.Select{
		Label: "Show the evaluation?",
		Items: []string{PromptYes, PromptNo},
	}
	_, answer, err := confirm.Run()
	if err != nil || answer != PromptYes {
		return
	}
	printResult(out, result)
}

// converse reads candidate turns until the session completes. It returns
// errQuit when the candidate leaves.
func converse(ctx context.Context, c *components, sessionID string, out io.Writer, logger *zap.Logger) (bool, error) {
	input := promptui.Prompt{Label: "You"}

	for {
		text, err := input.Run()
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
			return false, errQuit
		}
		if err != nil {
			return false, err
		}
		if strings.TrimSpace(text) == quitCommand {
			return false, errQuit
		}

		fmt.Fprint(out, "Interviewer: ")
		reply, err := c.service.SubmitTurn(ctx, sessionID, terminalClient, text, printer(out))
		fmt.Fprintln(out)

		var ierr *interview.Error
		switch {
		case err == nil:
		case errors.As(err, &ierr) && ierr.Kind == interview.KindRateLimited:
			fmt.Fprintf(out, "Too many messages, please wait %s.\n", ierr.RetryAfter.Round(time.Second))
			continue
		case errors.As(err, &ierr) && ierr.Kind == interview.KindTransientModel:
			fmt.Fprintln(out, "The interviewer is unavailable right now, please send that again.")
			continue
		default:
			return false, err
		}

		if reply.Rejection != nil {
			logger.Debug("input deflected", zap.String("rule", reply.Rejection.Rule))
		}
		if reply.Completed {
			return true, nil
		}
	}
}

func printer(out io.Writer) interview.ChunkSink {
	return func(chunk string) error {
		_, err := io.WriteString(out, chunk)
		return err
	}
}

func printResult(out io.Writer, r *evaluation.Result) {
	fmt.Fprintf(out, "Tier:          %s (%d)\n", r.Tier, r.Composite)
	fmt.Fprintf(out, "Skill match:   %.1f  %s\n", r.SkillMatch, r.SkillMatchRationale)
	fmt.Fprintf(out, "Communication: %.1f  %s\n", r.Communication, r.CommunicationRationale)
	fmt.Fprintf(out, "Remote fit:    %.1f  %s\n", r.RemoteFit, r.RemoteFitRationale)
	if len(r.Strengths) > 0 {
		fmt.Fprintf(out, "Strengths:     %s\n", strings.Join(r.Strengths, "; "))
	}
	if len(r.RedFlags) > 0 {
		fmt.Fprintf(out, "Red flags:     %s\n", strings.Join(r.RedFlags, "; "))
	}
	fmt.Fprintf(out, "Summary:       %s\n", r.Summary)
}
