package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ternarybob/entitle/internal/models"
	"github.com/ternarybob/entitle/internal/storage"
)

var stockCmd = &cobra.Command{
	Use:   "stock [all|1|3|in_use]",
	Short: "Show credential inventory",
	Args:  cobra.MaximumNArgs(1),
	RunE:  showStock,
}

var addCmd = &cobra.Command{
	Use:   "add <duration> <file>",
	Short: "Add credentials from a file to the inventory",
	Args:  cobra.ExactArgs(2),
	RunE:  addCredentials,
}

var stockList bool

func init() {
	stockCmd.Flags().BoolVar(&stockList, "list", false, "List entries instead of counts")
}

// Inventory commands only touch the flat files, so they skip Badger
func showStock(cmd *cobra.Command, args []string) error {
	store, err := storage.NewCredentialStore(logger, config)
	if err != nil {
		return err
	}

	if !stockList && len(args) == 0 {
		all, err := store.StockAll()
		if err != nil {
			return err
		}
		for _, class := range models.DurationClasses {
			s := all[class]
			fmt.Printf("%s: %d available, %d in use, %d total\n", class, s.Available, s.InUse, s.Total)
		}
		return nil
	}

	scope := models.ScopeAll
	if len(args) == 1 {
		var ok bool
		if scope, ok = models.ParseInventoryScope(args[0]); !ok {
			return fmt.Errorf("invalid scope %q: expected all, 1, 3 or in_use", args[0])
		}
	}
	snapshot, err := store.Fetch(scope)
	if err != nil {
		return err
	}
	return printJSON(snapshot)
}

func addCredentials(cmd *cobra.Command, args []string) error {
	class, err := models.ParseDurationClass(args[0])
	if err != nil {
		return err
	}
	lines, err := readLines(args[1])
	if err != nil {
		return err
	}

	store, err := storage.NewCredentialStore(logger, config)
	if err != nil {
		return err
	}
	added, err := store.Add(lines, class)
	if err != nil {
		return err
	}

	stock, err := store.Stock(class)
	if err != nil {
		return err
	}
	fmt.Printf("Added %d of %d credentials to %s (now %d available)\n", added, len(lines), class, stock.Available)
	return nil
}
