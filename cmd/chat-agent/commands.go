package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dify-chat-agent/internal/app/models"
	"dify-chat-agent/internal/app/routers"
	"dify-chat-agent/internal/app/services"
	"dify-chat-agent/pkg/config"
	"dify-chat-agent/pkg/logger"
	"dify-chat-agent/pkg/util"
)

var (
	configPath     string
	conversationID string
	attachPath     string
	showThinking   bool

	rootCmd = &cobra.Command{
		Use:           "chat-agent",
		Short:         "Streaming chat relay for Dify compatible chat apps",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Init(configPath); err != nil {
				return err
			}
			logger.Init(config.GetLogConf())
			return nil
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP relay",
		RunE:  runServe,
	}

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question and stream the answer to the terminal",
		Args:  cobra.ExactArgs(1),
		RunE:  runAsk,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml)")

	askCmd.Flags().StringVar(&conversationID, "conversation", "", "continue an existing conversation")
	askCmd.Flags().StringVarP(&attachPath, "file", "f", "", "attach a local file")
	askCmd.Flags().BoolVar(&showThinking, "thinking", true, "print the model's thinking section")

	rootCmd.AddCommand(serveCmd, askCmd, versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := services.Init(ctx); err != nil {
		return err
	}
	defer services.Close()

	serverConf := config.GetServerConf()
	gin.SetMode(gin.ReleaseMode)
	if strings.Contains(config.GetRunMode(), "dev") {
		gin.SetMode(gin.DebugMode)
	}

	janitorStop := make(chan struct{})
	defer close(janitorStop)
	go services.Sessions.RunJanitor(serverConf.CleanupInterval, serverConf.SessionTTL, janitorStop)

	srv := &http.Server{
		Addr:    serverConf.Addr,
		Handler: routers.SetUp(services.Sessions, services.Client, services.Records),
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("chat-agent %s listening on %s", version, serverConf.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runAsk(cmd *cobra.Command, args []string) error {
	backend, err := services.NewBackend(config.GetBackendConf(), config.GetDifyConf(), config.GetOpenaiConf())
	if err != nil {
		return err
	}
	opts := services.OptionsFromConfig(config.GetDifyConf())
	if conversationID != "" {
		opts.ConversationID = conversationID
	}
	widget := services.NewWidget(backend, opts)

	msg := models.SendMessageRequest{Query: args[0]}
	if attachPath != "" {
		dataURL, fileType, err := util.EncodeFileBase64(attachPath)
		if err != nil {
			return err
		}
		msg.Files = append(msg.Files, models.FileInput{
			Type:           fileType,
			TransferMethod: "remote_url",
			URL:            dataURL,
			Name:           filepath.Base(attachPath),
		})
	}

	// Ctrl-C 停止生成，已收到的回答照常收尾
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		widget.Stop()
	}()

	sink := newTerminalSink(cmd.OutOrStdout(), showThinking)
	outcome, err := widget.Send(context.WithoutCancel(ctx), msg, sink)
	if err != nil {
		return err
	}
	if id := widget.ConversationID(); id != "" {
		log.Debugf("conversation %s, message %s", id, outcome.Final.MessageID)
	}
	return nil
}
