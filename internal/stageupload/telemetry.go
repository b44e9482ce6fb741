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

package stageupload

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	uploadCount     metric.Int64Counter
	uploadBytes     metric.Int64Counter
	uploadErrors    metric.Int64Counter
	rejectedRetries metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/stagerunner/internal/stageupload")

	var err error
	uploadCount, err = meter.Int64Counter(
		"stagerunner.upload.count",
		metric.WithDescription("Number of chunks uploaded to the stage"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create upload.count counter: %w", err))
	}

	uploadBytes, err = meter.Int64Counter(
		"stagerunner.upload.bytes",
		metric.WithDescription("Bytes uploaded to the stage"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create upload.bytes counter: %w", err))
	}

	uploadErrors, err = meter.Int64Counter(
		"stagerunner.upload.errors",
		metric.WithDescription("Number of chunk uploads that failed for non-credential reasons"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create upload.errors counter: %w", err))
	}

	rejectedRetries, err = meter.Int64Counter(
		"stagerunner.upload.credential_retries",
		metric.WithDescription("Number of uploads retried after a forced credential refresh"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create upload.credential_retries counter: %w", err))
	}
}
