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

package gateway

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

var _ = Describe("Gateway", func() {
	var (
		gw  *Gateway
		ctx context.Context
	)

	BeforeEach(func() {
		gw = newFakeGateway("vscode-system")
		ctx = context.Background()
	})

	newCM := func(name string, data map[string]string) *corev1.ConfigMap {
		return &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: name},
			Data:       data,
		}
	}

	Describe("EnsureConfigMap", func() {
		It("creates the object in the gateway namespace", func() {
			_, err := gw.EnsureConfigMap(ctx, newCM("a-config", map[string]string{"k": "v"}))
			Expect(err).NotTo(HaveOccurred())

			got, err := gw.GetConfigMap(ctx, "a-config")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Namespace).To(Equal("vscode-system"))
			Expect(got.Data).To(HaveKeyWithValue("k", "v"))
		})

		It("returns the existing object on a second call", func() {
			_, err := gw.EnsureConfigMap(ctx, newCM("a-config", map[string]string{"k": "original"}))
			Expect(err).NotTo(HaveOccurred())

			got, err := gw.EnsureConfigMap(ctx, newCM("a-config", map[string]string{"k": "changed"}))
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Data).To(HaveKeyWithValue("k", "original"))
		})
	})

	Describe("GetConfigMap", func() {
		It("normalizes a missing object to ErrNotFound", func() {
			_, err := gw.GetConfigMap(ctx, "absent")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("PatchConfigMapData", func() {
		It("merges new keys without dropping existing ones", func() {
			_, err := gw.EnsureConfigMap(ctx, newCM("a-build-status", map[string]string{
				"state": "queued",
				"user":  "alice",
			}))
			Expect(err).NotTo(HaveOccurred())

			Expect(gw.PatchConfigMapData(ctx, "a-build-status", map[string]string{
				"state": "building",
			})).To(Succeed())

			got, err := gw.GetConfigMap(ctx, "a-build-status")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Data).To(HaveKeyWithValue("state", "building"))
			Expect(got.Data).To(HaveKeyWithValue("user", "alice"))
		})

		It("returns ErrNotFound for an absent record", func() {
			err := gw.PatchConfigMapData(ctx, "absent", map[string]string{"state": "building"})
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("DeleteConfigMap", func() {
		It("returns ErrNotFound when the object is already gone", func() {
			Expect(gw.DeleteConfigMap(ctx, "absent")).To(MatchError(ErrNotFound))
		})

		It("removes an existing object", func() {
			_, err := gw.EnsureConfigMap(ctx, newCM("a-config", nil))
			Expect(err).NotTo(HaveOccurred())

			Expect(gw.DeleteConfigMap(ctx, "a-config")).To(Succeed())
			_, err = gw.GetConfigMap(ctx, "a-config")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("ListConfigMaps", func() {
		It("filters by labels within the namespace", func() {
			owned := newCM("x-config", nil)
			owned.Labels = map[string]string{"app": "vscode-server"}
			other := newCM("unrelated", nil)

			_, err := gw.EnsureConfigMap(ctx, owned)
			Expect(err).NotTo(HaveOccurred())
			_, err = gw.EnsureConfigMap(ctx, other)
			Expect(err).NotTo(HaveOccurred())

			list, err := gw.ListConfigMaps(ctx, map[string]string{"app": "vscode-server"})
			Expect(err).NotTo(HaveOccurred())
			Expect(list.Items).To(HaveLen(1))
			Expect(list.Items[0].Name).To(Equal("x-config"))
		})
	})

	Describe("PVC operations", func() {
		It("ensure is idempotent and get maps NotFound", func() {
			pvc := &corev1.PersistentVolumeClaim{ObjectMeta: metav1.ObjectMeta{Name: "u-shared"}}
			_, err := gw.EnsurePVC(ctx, pvc)
			Expect(err).NotTo(HaveOccurred())

			again := &corev1.PersistentVolumeClaim{ObjectMeta: metav1.ObjectMeta{Name: "u-shared"}}
			_, err = gw.EnsurePVC(ctx, again)
			Expect(err).NotTo(HaveOccurred())

			_, err = gw.GetPVC(ctx, "nope")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})
})
