package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"docchat/pkg/reasoning"
)

var askHideReasoning bool

var askCmd = &cobra.Command{
	Use:   "ask <conversation-id> <message>...",
	Short: "Ask a question and stream the answer",
	Long: `Send a message to a conversation and stream the answer as it is generated.
Press Ctrl-C to stop generation; the partial answer is kept.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID := args[0]
		message := strings.Join(args[1:], " ")
		c := newClient()

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt)
		defer signal.Stop(sigs)
		finished := make(chan struct{})
		defer close(finished)
		go func() {
			select {
			case <-sigs:
			case <-finished:
				return
			}
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, _ = c.StopChat(stopCtx, conversationID)
		}()

		out := cmd.OutOrStdout()
		r := &answerRenderer{w: out, hideReasoning: askHideReasoning}
		// Ctrl-C stops generation server side; the stream still ends with its terminal frame
		done, err := c.StreamChat(cmd.Context(), conversationID, message, r.render)
		r.finish()
		if err != nil {
			return err
		}
		if done.Aborted {
			fmt.Fprintln(cmd.ErrOrStderr(), "(stopped)")
		}
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <conversation-id>",
	Short: "Stop the answer being generated in a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stopped, err := newClient().StopChat(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !stopped {
			return errors.New("no active generation")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "stopped")
		return nil
	},
}

func init() {
	askCmd.Flags().BoolVar(&askHideReasoning, "hide-reasoning", false, "do not print model reasoning")
	rootCmd.AddCommand(askCmd, stopCmd)
}

const (
	dim   = "\x1b[2m"
	reset = "\x1b[0m"
)

// answerRenderer prints reasoning dimmed ahead of the answer.
type answerRenderer struct {
	w             io.Writer
	hideReasoning bool
	inReasoning   bool
	wroteContent  bool
}

func (r *answerRenderer) render(ev reasoning.Event) {
	switch ev.Type {
	case reasoning.TypeReasoningStart:
		r.inReasoning = true
		if !r.hideReasoning {
			fmt.Fprint(r.w, dim)
		}
	case reasoning.TypeReasoning:
		if !r.hideReasoning {
			fmt.Fprint(r.w, ev.Chunk)
		}
	case reasoning.TypeReasoningEnd:
		r.endReasoning()
	case reasoning.TypeContent:
		r.endReasoning()
		fmt.Fprint(r.w, ev.Chunk)
		r.wroteContent = true
	}
}

func (r *answerRenderer) endReasoning() {
	if !r.inReasoning {
		return
	}
	r.inReasoning = false
	if !r.hideReasoning {
		fmt.Fprint(r.w, reset+"\n\n")
	}
}

func (r *answerRenderer) finish() {
	r.endReasoning()
	if r.wroteContent {
		fmt.Fprintln(r.w)
	}
}
