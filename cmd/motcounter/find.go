package main

import (
	"context"
	"fmt"
	"io"

	"github.com/LdDl/mot-lifecycle/storage/postgres"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

type findOptions struct {
	DBURL     string
	Threshold float64
}

var findOpts findOptions

var findCmd = &cobra.Command{
	Use:   "find <embedding>",
	Short: "Search stored identities for the nearest embedding, e.g. find --db postgres://... '[0.1, 0.9, 0.3]'",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		embedding, err := parseEmbedding(args[0])
		if err != nil {
			return err
		}
		store, err := postgres.New(cmd.Context(), findOpts.DBURL)
		if err != nil {
			return err
		}
		defer store.Close(context.Background())
		return runFind(cmd.Context(), store, embedding, findOpts.Threshold, cmd.OutOrStdout())
	},
}

func init() {
	findCmd.Flags().StringVar(&findOpts.DBURL, "db", "", "PostgreSQL with stored identity records")
	findCmd.Flags().Float64VarP(&findOpts.Threshold, "threshold", "t", 0.3, "Maximum cosine distance")
	findCmd.MarkFlagRequired("db")
	rootCmd.AddCommand(findCmd)
}

type closestFinder interface {
	FindClosest(ctx context.Context, embedding []float64, threshold float64) (string, error)
}

func runFind(ctx context.Context, finder closestFinder, embedding []float64, threshold float64, out io.Writer) error {
	id, err := finder.FindClosest(ctx, embedding, threshold)
	if err != nil {
		return err
	}
	if id == "" {
		fmt.Fprintf(out, "No identity within distance %.3f\n", threshold)
		return nil
	}
	fmt.Fprintf(out, "Identity: %s\n", id)
	return nil
}

// parseEmbedding reads JSON array of numbers
func parseEmbedding(text string) ([]float64, error) {
	if !gjson.Valid(text) {
		return nil, errors.New("Embedding should be JSON array")
	}
	value := gjson.Parse(text)
	if !value.IsArray() {
		return nil, errors.New("Embedding should be JSON array")
	}
	items := value.Array()
	if len(items) == 0 {
		return nil, errors.New("Embedding is empty")
	}
	embedding := make([]float64, len(items))
	for i, item := range items {
		if item.Type != gjson.Number {
			return nil, errors.Errorf("Embedding value #%d is not a number", i)
		}
		embedding[i] = item.Float()
	}
	return embedding, nil
}
