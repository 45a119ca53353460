/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	instancesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devspawn_instances_created_total",
		Help: "Instances created, by create mode.",
	}, []string{"mode"})

	instancesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "devspawn_instances_deleted_total",
		Help: "Instances deleted.",
	})

	buildsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "devspawn_builds_in_flight",
		Help: "Devcontainer builds currently running.",
	})

	buildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devspawn_builds_total",
		Help: "Finished devcontainer builds, by outcome.",
	}, []string{"outcome"})
)
