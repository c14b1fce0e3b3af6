package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"parley/internal/chat"
	"parley/internal/memory"
	"parley/internal/pipeline"
	"parley/internal/proxy"
	"parley/internal/router"
	"parley/internal/speech"
	"parley/internal/telegram"
	"parley/internal/transcode"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	proxyAddr := cli.StringP("proxy", "p", "", "Optional SOCKS5 proxy for upstream API calls")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	model := cli.String("model", "gpt-5-nano", "Chat model")
	voiceID := cli.String("voice", "EXAVITQu4vr4xnSDxMaL", "ElevenLabs voice id")
	ttsModel := cli.String("tts-model", "eleven_multilingual_v1", "ElevenLabs model id")
	history := cli.Int("history", 64, "Max turns kept per chat, 0 = unbounded")
	timeout := cli.Duration("timeout", 60*time.Second, "Timeout per upstream call")
	pollTimeout := cli.Duration("poll-timeout", 30*time.Second, "Telegram long poll timeout")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[*logLevel],
	})))

	log.Info("Booting up")

	godotenv.Load(*envFile)

	botToken := mustEnv("TELEGRAM_TOKEN")
	openaiKey := mustEnv("OPENAI_API_KEY")
	elevenKey := mustEnv("ELEVENLABS_API_KEY")

	log.Debug("Loaded credentials")

	upstreamHTTP := &http.Client{Timeout: 2 * *timeout}
	if *proxyAddr != "" {
		var err error
		upstreamHTTP, err = proxy.NewHTTPClient(*proxyAddr, 2*(*timeout))
		if err != nil {
			log.Error("Failed to dial socks proxy", "proxy", *proxyAddr, "err", err)
			os.Exit(1)
		}
		log.Debug("Loaded proxy")
	}

	api := openai.NewClient(
		option.WithAPIKey(openaiKey),
		option.WithHTTPClient(upstreamHTTP),
	)

	// The poll client must outlive a full long poll.
	tg := telegram.NewClient(
		&http.Client{Timeout: *pollTimeout + 30*time.Second},
		"https://api.telegram.org",
		botToken,
	)

	store := memory.NewStore(*history)
	responder := chat.NewResponder(&chat.OpenAICompleter{
		Client: api,
		Model:  openai.ChatModel(*model),
	})

	voice := pipeline.New(pipeline.Config{
		Transport:    tg,
		Transcriber:  speech.NewTranscriber(api),
		Replier:      responder,
		Synthesizer:  speech.NewSynthesizer(elevenKey, *voiceID, *ttsModel, *timeout),
		Transcoder:   &transcode.FFmpeg{},
		StageTimeout: *timeout,
		Probe:        transcode.MP3Duration,
	})

	rt := router.New(router.Config{
		Transport:    tg,
		Replier:      responder,
		Voice:        voice,
		Store:        store,
		ReplyTimeout: *timeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	me, err := tg.GetMe(ctx)
	if err != nil {
		log.Error("Failed to reach Telegram", "err", err)
		os.Exit(1)
	}

	log.Info("Boot up - successful", "bot", me.Username)

	var offset int64
	for {
		updates, next, err := tg.GetUpdates(ctx, offset, *pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warn("Poll failed", "err", err)
			time.Sleep(3 * time.Second)
			continue
		}
		offset = next

		for _, u := range updates {
			rt.Dispatch(u)
		}
	}

	log.Info("Shutting down")
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Error(key + " not set")
		os.Exit(1)
	}
	return v
}
