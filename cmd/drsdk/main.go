package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/drtelemed/drsdk"
	"github.com/drtelemed/drsdk/internal/call"
	"github.com/drtelemed/drsdk/internal/chat"
	"github.com/drtelemed/drsdk/internal/webrtc"
)

const helpText = `drsdk - Join a telemed consultation chat or call

Usage:
  drsdk chat    Print the chat and send every stdin line as a message
  drsdk call    Join the call and write the remote H264 video to stdout

The call's raw H264 stream is written to stdout. Pipe to ffplay or ffmpeg
for playback or recording.

Environment Variables (required):
  DRSDK_TOKEN            Application token
  DRSDK_USER_TOKEN       User token
  DRSDK_CONSULTATION_ID  Consultation id

Environment Variables (optional):
  DRSDK_REFRESH_TOKEN    Refresh token for expired user tokens
  DRSDK_APP_LOGIN        Application login for expired app tokens
  DRSDK_APP_PASSWORD     Application password
  DRSDK_LOG_LEVEL        debug, info, warn or error (default info)

Examples:
  # Live playback
  drsdk call | ffplay -f h264 -

  # Record to MP4
  drsdk call | ffmpeg -f h264 -i - -c copy output.mp4

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "--help" {
		fmt.Print(helpText)
		os.Exit(0)
	}
	mode := os.Args[1]

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})

	cfg, err := drsdk.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Str("module", "main").Msg("load config")
	}
	if err := cfg.RequireSession(); err != nil {
		log.Fatal().Err(err).Str("module", "main").Msg("missing credentials")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("module", "main").Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	factory := drsdk.NewFactory(*cfg)
	defer factory.Close()
	go func() {
		select {
		case err := <-factory.Reauth():
			log.Error().Err(err).Str("module", "main").Msg("log in again")
			cancel()
		case <-ctx.Done():
		}
	}()

	switch mode {
	case "chat":
		err = runChat(ctx, factory, cfg)
	case "call":
		err = runCall(ctx, factory, cfg)
	default:
		err = fmt.Errorf("unknown mode %q", mode)
	}
	if err != nil {
		log.Fatal().Err(err).Str("module", "main").Msg(mode)
	}
	log.Info().Str("module", "main").Msg("done")
}

func runChat(ctx context.Context, factory *drsdk.Factory, cfg *drsdk.Config) error {
	s := factory.ChatModule(cfg.Token, cfg.UserToken)
	defer s.Destroy()

	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	if err := <-s.Create(ctx, cfg.ConsultationID); err != nil {
		return fmt.Errorf("create chat: %w", err)
	}
	for _, m := range s.ChatHistory() {
		printMessage(m)
	}

	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			if line := sc.Text(); line != "" {
				s.SendMessage(drsdk.NewOutgoingMessage(line, nil))
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case chat.EventMessage:
				printMessage(ev.Message)
			case chat.EventWritingStatus:
				log.Info().Str("module", "main").Stringer("writing", ev.Writing).Msg("opponent")
			case chat.EventOnlineStatus:
				log.Info().Str("module", "main").Stringer("online", ev.Online).Msg("opponent")
			case chat.EventMessageStatus:
				log.Debug().Str("module", "main").Str("id", ev.MessageID).Str("status", string(ev.Status)).Msg("message status")
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func printMessage(m drsdk.ChatMessage) {
	text := m.Message
	if text == "" {
		text = m.ServiceMessage
	}
	fmt.Printf("[%s] %s: %s\n", m.Key(), m.Name, text)
}

func runCall(ctx context.Context, factory *drsdk.Factory, cfg *drsdk.Config) error {
	s := factory.CallsModule(cfg.ConsultationID, cfg.Token, cfg.UserToken)
	defer s.CompleteCall()

	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	rec := webrtc.NewRecorder(os.Stdout)
	defer rec.Close()

	if err := s.Start(); err != nil {
		return err
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case call.EventConnectState:
				log.Info().Str("module", "main").Bool("connected", ev.ConnectState == call.Connect).Msg("call state")
			case call.EventIncomingCall:
				log.Info().Str("module", "main").Str("doctor", ev.IncomingCall.Name).Msg("incoming call, accepting")
				s.AcceptCall()
			case call.EventRemoteTrack:
				if t, ok := ev.Track.(*webrtc.RemoteTrack); ok && rec.Attach(t) {
					log.Info().Str("module", "main").Str("track", t.ID()).Msg("recording remote video")
				}
			case call.EventError:
				log.Warn().Err(ev.Err).Str("module", "main").Msg("call error")
			}
		case <-ctx.Done():
			return nil
		}
	}
}
