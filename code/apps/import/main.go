/*
import loads members from a CSV file into the member table, for example an
export from the school's records.  New members are added and existing ones
have their details brought up to date.  The store is the one named in the
config file, ./config.json unless another is given.

	import members.csv [config.json]
*/
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/goblimey/go-kas-tracker/code/apps/import/csvimport"
	"github.com/goblimey/go-kas-tracker/code/pkg/config"
	"github.com/goblimey/go-kas-tracker/code/pkg/repository"
	"github.com/goblimey/go-kas-tracker/code/pkg/store"
)

func main() {
	usage := fmt.Sprintf("usage %s  CSV_file_name  [config_file]", os.Args[0])
	if len(os.Args) < 2 {
		slog.Error(usage)
		os.Exit(-1)
	}

	configFile := "./config.json"
	if len(os.Args) > 2 {
		configFile = os.Args[2]
	}

	conf, configError := config.GetConfig(configFile)
	if configError != nil {
		slog.Error(configError.Error())
		os.Exit(-1)
	}

	// Open the file.
	file, openError := os.Open(os.Args[1])
	if openError != nil {
		slog.Error("error while reading " + os.Args[1] + ": " + openError.Error())
		os.Exit(-1)
	}
	defer file.Close()

	columns := repository.DefaultColumns()
	records, importError := csvimport.Import(file, columns)
	if importError != nil {
		slog.Error(importError.Error())
		os.Exit(-1)
	}

	tableStore, closeStore, storeError := store.Open(conf, slog.Default())
	if storeError != nil {
		slog.Error(storeError.Error())
		os.Exit(-1)
	}
	defer closeStore()

	tables := repository.Tables{
		Member: conf.MemberTable,
		Draft:  conf.DraftTable,
		Auth:   conf.AuthTable,
		News:   conf.NewsTable,
	}
	repo := repository.New(tableStore, tables, columns, slog.Default())

	// Traverse the imported data and update the member table.
	var added, updated, failed int
	for _, record := range records {
		inserted, err := csvimport.ProcessRecord(context.Background(), repo, &record)
		if err != nil {
			slog.Error(err.Error())
			failed++
			continue
		}
		if inserted {
			slog.Info("added " + record.Name)
			added++
		} else {
			slog.Info("updated " + record.Name)
			updated++
		}
	}

	slog.Info(fmt.Sprintf("%d added, %d updated, %d failed", added, updated, failed))
	if failed > 0 {
		closeStore()
		os.Exit(1)
	}
}
