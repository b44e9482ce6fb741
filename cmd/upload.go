// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/stagerunner/internal/colstats"
	"github.com/cardinalhq/stagerunner/internal/idgen"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a chunk file through the ingestion stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, uploader, err := loadStage()
		if err != nil {
			return err
		}

		payload, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		ext := filepath.Ext(args[0])
		namer := idgen.NewULIDChunkNamer()
		objectName := namer.Name(time.Now(), ext)

		start := time.Now()
		if err := uploader.Upload(cmd.Context(), objectName, payload); err != nil {
			return err
		}
		slog.Info("uploaded chunk",
			slog.String("file", args[0]),
			slog.String("object", objectName),
			slog.Int("bytes", len(payload)),
			slog.Duration("elapsed", time.Since(start)))

		// NDJSON chunks also get per-column pruning statistics logged, the
		// same numbers the flush path would attach as chunk metadata.
		if ext == ".ndjson" || ext == ".jsonl" {
			logChunkStats(objectName, payload)
		}
		return nil
	},
}

// logChunkStats accumulates and logs per-column statistics for an NDJSON
// payload. Rows that fail to parse are skipped.
func logChunkStats(objectName string, payload []byte) {
	acc := colstats.NewChunkAccumulator()
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			slog.Warn("skipping unparseable row", slog.Any("error", err))
			continue
		}
		acc.Add(row)
	}

	for col, tr := range acc.Finalize() {
		attrs := []any{
			slog.String("object", objectName),
			slog.String("column", col),
			slog.Int64("nullCount", tr.NullCount()),
			slog.Int64("maxLength", tr.MaxLength()),
		}
		if mn, ok := tr.MinString(); ok {
			mx, _ := tr.MaxString()
			attrs = append(attrs, slog.String("minString", mn), slog.String("maxString", mx))
		}
		if mn := tr.MinInt(); mn != nil {
			attrs = append(attrs, slog.String("minInt", mn.String()), slog.String("maxInt", tr.MaxInt().String()))
		}
		if mn, ok := tr.MinReal(); ok {
			mx, _ := tr.MaxReal()
			attrs = append(attrs, slog.Float64("minReal", mn), slog.Float64("maxReal", mx))
		}
		slog.Info("column statistics", attrs...)
	}
}
