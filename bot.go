package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mdp/qrterminal/v3"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/mattn/go-sqlite3"
)

//////////////////////////////////////////////////////////////
// MAIN
//////////////////////////////////////////////////////////////

func main() {
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		errLog := zerolog.New(os.Stderr)
		errLog.Fatal().Err(err).Msg("invalid configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	log.Info().Msg("starting elz ai")

	patterns, err := loadPatterns(cfg.PatternsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load pattern tables")
	}

	store, err := newStateStore(cfg.StateDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open state store")
	}

	dbLog := waLog.Stdout("Database", "ERROR", true)
	container, err := sqlstore.New(context.Background(), "sqlite3", cfg.DBPath, dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open device store")
	}
	deviceStore, err := container.GetFirstDevice(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load device")
	}

	client := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "ERROR", true))
	bot := newBot(cfg, log, store, patterns, newAPIClient(cfg), client)
	bot.groupLookup = client.GetGroupInfo
	client.AddEventHandler(bot.handleEvent)

	if client.Store.ID == nil {
		qrChan, _ := client.GetQRChannel(context.Background())
		if err := client.Connect(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect")
		}
		for evt := range qrChan {
			switch evt.Event {
			case "code":
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
			case "success":
				log.Info().Msg("paired with phone")
			}
		}
	} else {
		if err := client.Connect(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect")
		}
	}
	bot.selfJID = client.Store.ID.ToNonAD()
	log.Info().Str("jid", bot.selfJID.String()).Msg("logged in")

	// Periodic flush keeps the JSON state fresh even if nothing mutates it
	// for a while; every mutation also writes through on its own.
	flushDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.FlushEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := store.Flush(); err != nil {
					log.Error().Err(err).Msg("periodic flush failed")
				} else {
					log.Debug().Msg("state flushed")
				}
			case <-flushDone:
				return
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
		log.Info().Msg("shutting down")
	case <-bot.loggedOut:
	}

	close(flushDone)
	if err := store.Flush(); err != nil {
		log.Error().Err(err).Msg("final flush failed")
	}
	client.Disconnect()
}
