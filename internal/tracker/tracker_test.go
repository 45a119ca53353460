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

package tracker

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	apiv1 "github.com/jeffvincent/devspawn/api/v1"
	"github.com/jeffvincent/devspawn/internal/gateway"
)

var _ = Describe("Tracker", func() {
	var (
		ctx context.Context
		gw  *gateway.Gateway
		trk *Tracker
	)

	const instanceID = "alice-0a1b2c3d"

	record := func() Record {
		return Record{
			InstanceID:        instanceID,
			UserID:            "alice",
			Token:             "deadbeefdeadbeefdeadbeefdeadbeef",
			DevcontainerImage: "localhost:32000/vscode-devcontainer-alice-0a1b2c3d:latest",
			Request: apiv1.VSCodeServerRequest{
				UserID:      "alice",
				StorageSize: "2Gi",
				BaseImage:   "ubuntu:22.04",
			},
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		gw = newFakeGateway("vscode-system")
		trk = New(gw)
	})

	Describe("Start", func() {
		It("persists the record in state queued with the parameter set", func() {
			Expect(trk.Start(ctx, record())).To(Succeed())

			rec, err := trk.Read(ctx, instanceID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.State).To(Equal(StateQueued))
			Expect(rec.UserID).To(Equal("alice"))
			Expect(rec.Token).To(Equal("deadbeefdeadbeefdeadbeefdeadbeef"))
			Expect(rec.Request.StorageSize).To(Equal("2Gi"))
			Expect(rec.DevcontainerImage).To(ContainSubstring(instanceID))
		})

		It("labels the record so teardown can find it", func() {
			Expect(trk.Start(ctx, record())).To(Succeed())

			cm, err := gw.GetConfigMap(ctx, instanceID+"-build-status")
			Expect(err).NotTo(HaveOccurred())
			Expect(cm.Labels["instance"]).To(Equal(instanceID))
			Expect(cm.Labels["user"]).To(Equal("alice"))
			Expect(cm.Labels["type"]).To(Equal("build-status"))
		})
	})

	Describe("SetState", func() {
		It("advances the record through the build states", func() {
			Expect(trk.Start(ctx, record())).To(Succeed())

			for _, state := range []string{StateBuilding, StateDeploying, StateCompleted} {
				Expect(trk.SetState(ctx, instanceID, state)).To(Succeed())
				rec, err := trk.Read(ctx, instanceID)
				Expect(err).NotTo(HaveOccurred())
				Expect(rec.State).To(Equal(state))
			}
		})

		It("fails for an unknown instance", func() {
			err := trk.SetState(ctx, "ghost-00000000", StateBuilding)
			Expect(err).To(MatchError(gateway.ErrNotFound))
		})
	})

	Describe("Fail", func() {
		It("records the terminal failed state with the error text", func() {
			Expect(trk.Start(ctx, record())).To(Succeed())
			Expect(trk.Fail(ctx, instanceID, errors.New("no devcontainer.json found in workspace"))).To(Succeed())

			rec, err := trk.Read(ctx, instanceID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.State).To(Equal(StateFailed))
			Expect(rec.Error).To(ContainSubstring("devcontainer.json"))
			Expect(rec.Terminal()).To(BeTrue())
		})
	})

	Describe("Read", func() {
		It("returns NotFound when neither status nor config record exists", func() {
			_, err := trk.Read(ctx, "ghost-00000000")
			Expect(err).To(MatchError(gateway.ErrNotFound))
		})

		It("synthesizes completed when only the config record remains", func() {
			_, err := gw.EnsureConfigMap(ctx, &corev1.ConfigMap{
				ObjectMeta: metav1.ObjectMeta{Name: instanceID + "-config"},
			})
			Expect(err).NotTo(HaveOccurred())

			rec, err := trk.Read(ctx, instanceID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.State).To(Equal(StateCompleted))
			Expect(rec.Terminal()).To(BeTrue())
		})
	})

	Describe("Delete", func() {
		It("removes the record", func() {
			Expect(trk.Start(ctx, record())).To(Succeed())
			Expect(trk.Delete(ctx, instanceID)).To(Succeed())

			_, err := trk.Read(ctx, instanceID)
			Expect(err).To(MatchError(gateway.ErrNotFound))
		})

		It("tolerates a record that is already gone", func() {
			Expect(trk.Delete(ctx, instanceID)).To(Succeed())
		})
	})

	Describe("Logs", func() {
		It("round-trips build output", func() {
			Expect(trk.WriteLogs(ctx, instanceID, "alice", "Step 1/4 : FROM ubuntu:22.04\n")).To(Succeed())

			logs, err := trk.ReadLogs(ctx, instanceID)
			Expect(err).NotTo(HaveOccurred())
			Expect(logs).To(ContainSubstring("Step 1/4"))
		})

		It("replaces logs from an earlier attempt", func() {
			Expect(trk.WriteLogs(ctx, instanceID, "alice", "first attempt")).To(Succeed())
			Expect(trk.WriteLogs(ctx, instanceID, "alice", "second attempt")).To(Succeed())

			logs, err := trk.ReadLogs(ctx, instanceID)
			Expect(err).NotTo(HaveOccurred())
			Expect(logs).To(Equal("second attempt"))
		})

		It("returns NotFound when no build was attempted", func() {
			_, err := trk.ReadLogs(ctx, instanceID)
			Expect(err).To(MatchError(gateway.ErrNotFound))
		})
	})
})
