package main

import (
	"context"
	"errors"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"prism-board/storage"
	"prism-board/storage/sqlitestore"
)

func storageInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "storage-init",
		Short: "Create tables and the notification queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			log.Info("storage init starting")
			if err := initStorage(ctx, os.Getenv); err != nil {
				log.Fatalf("storage init: %v", err)
			}
			log.Info("storage init complete")
			return nil
		},
	}
}

func initStorage(ctx context.Context, getenv func(string) string) error {
	if strings.EqualFold(getenv("STORAGE_DRIVER"), driverSQLite) {
		path := getenv("SQLITE_PATH")
		if path == "" {
			path = "data/prism-board.db"
		}
		st, err := sqlitestore.Open(path)
		if err != nil {
			return err
		}
		return st.Close()
	}
	connStr := getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		return errors.New("missing STORAGE_CONNECTION_STRING")
	}
	return storage.Init(ctx, connStr, tablesFromEnv(getenv), getenv("NOTIFICATIONS_QUEUE"))
}
