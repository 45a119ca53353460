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

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apiv1 "github.com/jeffvincent/devspawn/api/v1"
	"github.com/jeffvincent/devspawn/internal/gateway"
	"github.com/jeffvincent/devspawn/internal/naming"
	"github.com/jeffvincent/devspawn/internal/tracker"
)

var _ = Describe("Server", func() {
	var (
		bld *scriptedBuilder
		srv *Server
		gw  *gateway.Gateway
	)

	BeforeEach(func() {
		bld = &scriptedBuilder{}
		srv, gw = newTestServer(bld)
	})

	decode := func(rec *httptest.ResponseRecorder, into any) {
		ExpectWithOffset(1, json.Unmarshal(rec.Body.Bytes(), into)).To(Succeed())
	}

	detail := func(rec *httptest.ResponseRecorder) string {
		var body map[string]string
		decode(rec, &body)
		return body["detail"]
	}

	Describe("service endpoints", func() {
		It("reports identity on the root endpoint", func() {
			rec := do(srv, httptest.NewRequest(http.MethodGet, "/", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body map[string]string
			decode(rec, &body)
			Expect(body["status"]).To(Equal("ok"))
			Expect(body["service"]).To(Equal("VS Code DevContainer Manager API"))
			Expect(body["version"]).To(Equal("2.0.0"))
		})

		It("answers health checks", func() {
			rec := do(srv, httptest.NewRequest(http.MethodGet, "/health", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body map[string]string
			decode(rec, &body)
			Expect(body["status"]).To(Equal("healthy"))
			Expect(body["service"]).To(Equal("vscode-devcontainer-manager"))
		})

		It("exposes prometheus metrics", func() {
			rec := do(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("# HELP"))
		})
	})

	Describe("POST /instances/simple", func() {
		It("creates an instance and returns 201 Creating", func() {
			req := httptest.NewRequest(http.MethodPost, "/instances/simple",
				strings.NewReader(`{"user_id": "alice"}`))
			req.Header.Set("Content-Type", "application/json")

			rec := do(srv, req)
			Expect(rec.Code).To(Equal(http.StatusCreated))

			var resp apiv1.VSCodeServerResponse
			decode(rec, &resp)
			Expect(resp.InstanceID).To(HavePrefix("alice-"))
			Expect(resp.Status).To(Equal(apiv1.StatusCreating))
			Expect(resp.URL).To(ContainSubstring("?tkn=" + resp.AccessToken))
			Expect(resp.AccessToken).NotTo(ContainSubstring("-"))

			_, err := gw.GetDeployment(context.Background(), resp.InstanceID)
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects malformed JSON", func() {
			req := httptest.NewRequest(http.MethodPost, "/instances/simple",
				strings.NewReader(`{"user_id":`))
			rec := do(srv, req)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(detail(rec)).To(ContainSubstring("JSON"))
		})

		It("rejects a malformed base image with 400 and creates nothing", func() {
			req := httptest.NewRequest(http.MethodPost, "/instances/simple",
				strings.NewReader(`{"user_id": "alice", "base_image": "-bad image"}`))
			rec := do(srv, req)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(detail(rec)).To(ContainSubstring("base image"))

			list, err := gw.ListConfigMaps(context.Background(),
				map[string]string{naming.LabelApp: naming.App})
			Expect(err).NotTo(HaveOccurred())
			Expect(list.Items).To(BeEmpty())
		})

		It("rejects an invalid user id with 400", func() {
			req := httptest.NewRequest(http.MethodPost, "/instances/simple",
				strings.NewReader(`{"user_id": "Alice!"}`))
			rec := do(srv, req)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(detail(rec)).To(ContainSubstring("user id"))
		})
	})

	Describe("POST /instances/devcontainer", func() {
		devcontainerJSON := []byte(`{
			"image": "python:3.12",
			"customizations": {"vscode": {"extensions": ["ms-python.python"]}}
		}`)

		It("queues a build and returns 201 with the predicted image", func() {
			body, contentType := multipartBody(
				map[string]string{"user_id": "alice"},
				"devcontainer_json", "devcontainer.json", devcontainerJSON)
			req := httptest.NewRequest(http.MethodPost, "/instances/devcontainer", body)
			req.Header.Set("Content-Type", contentType)

			rec := do(srv, req)
			Expect(rec.Code).To(Equal(http.StatusCreated))

			var resp apiv1.VSCodeServerResponse
			decode(rec, &resp)
			Expect(resp.Status).To(Equal(apiv1.StatusQueued))
			Expect(resp.DevcontainerImage).To(ContainSubstring("vscode-devcontainer-" + resp.InstanceID))
			Expect(resp.BuildLogsURL).To(ContainSubstring("/build-logs"))

			eventuallyBuildState(srv, resp.InstanceID, tracker.StateCompleted)

			got := do(srv, httptest.NewRequest(http.MethodGet, "/instances/"+resp.InstanceID, nil))
			Expect(got.Code).To(Equal(http.StatusOK))
		})

		It("rejects a form without the devcontainer_json file", func() {
			body, contentType := multipartBody(map[string]string{"user_id": "alice"}, "", "", nil)
			req := httptest.NewRequest(http.MethodPost, "/instances/devcontainer", body)
			req.Header.Set("Content-Type", contentType)

			rec := do(srv, req)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(detail(rec)).To(ContainSubstring("devcontainer_json"))
		})

		It("rejects a malformed devcontainer.json", func() {
			body, contentType := multipartBody(
				map[string]string{"user_id": "alice"},
				"devcontainer_json", "devcontainer.json", []byte("{not json"))
			req := httptest.NewRequest(http.MethodPost, "/instances/devcontainer", body)
			req.Header.Set("Content-Type", contentType)

			rec := do(srv, req)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(detail(rec)).To(ContainSubstring("devcontainer"))
		})

		It("surfaces build failures through build-status, not the create call", func() {
			bld.err = errors.New("devcontainer build failed with exit code 17")

			body, contentType := multipartBody(
				map[string]string{"user_id": "alice"},
				"devcontainer_json", "devcontainer.json", devcontainerJSON)
			req := httptest.NewRequest(http.MethodPost, "/instances/devcontainer", body)
			req.Header.Set("Content-Type", contentType)

			rec := do(srv, req)
			Expect(rec.Code).To(Equal(http.StatusCreated))

			var resp apiv1.VSCodeServerResponse
			decode(rec, &resp)
			eventuallyBuildState(srv, resp.InstanceID, tracker.StateFailed)

			statusRec := do(srv, httptest.NewRequest(http.MethodGet,
				"/instances/"+resp.InstanceID+"/build-status", nil))
			var status apiv1.BuildStatusResponse
			decode(statusRec, &status)
			Expect(status.Error).To(ContainSubstring("exit code 17"))

			got := do(srv, httptest.NewRequest(http.MethodGet, "/instances/"+resp.InstanceID, nil))
			Expect(got.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("POST /instances/workspace", func() {
		It("rejects an upload that is not gzip", func() {
			body, contentType := multipartBody(
				map[string]string{"user_id": "alice"},
				"workspace", "workspace.tar.gz", []byte("plain text, not an archive"))
			req := httptest.NewRequest(http.MethodPost, "/instances/workspace", body)
			req.Header.Set("Content-Type", contentType)

			rec := do(srv, req)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(detail(rec)).To(ContainSubstring("gzipped"))
		})

		It("rejects a form without the workspace file", func() {
			body, contentType := multipartBody(map[string]string{"user_id": "alice"}, "", "", nil)
			req := httptest.NewRequest(http.MethodPost, "/instances/workspace", body)
			req.Header.Set("Content-Type", contentType)

			rec := do(srv, req)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(detail(rec)).To(ContainSubstring("workspace"))
		})
	})

	Describe("GET /instances", func() {
		It("lists all instances", func() {
			for _, user := range []string{"alice", "bob"} {
				req := httptest.NewRequest(http.MethodPost, "/instances/simple",
					strings.NewReader(`{"user_id": "`+user+`"}`))
				Expect(do(srv, req).Code).To(Equal(http.StatusCreated))
			}

			rec := do(srv, httptest.NewRequest(http.MethodGet, "/instances", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var list apiv1.VSCodeServerList
			decode(rec, &list)
			Expect(list.Instances).To(HaveLen(2))
		})
	})

	Describe("GET and DELETE /instances/{id}", func() {
		createSimple := func(user string) apiv1.VSCodeServerResponse {
			req := httptest.NewRequest(http.MethodPost, "/instances/simple",
				strings.NewReader(`{"user_id": "`+user+`"}`))
			rec := do(srv, req)
			ExpectWithOffset(1, rec.Code).To(Equal(http.StatusCreated))
			var resp apiv1.VSCodeServerResponse
			ExpectWithOffset(1, json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			return resp
		}

		It("returns the instance with its original token", func() {
			created := createSimple("alice")

			rec := do(srv, httptest.NewRequest(http.MethodGet, "/instances/"+created.InstanceID, nil))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var got apiv1.VSCodeServerResponse
			decode(rec, &got)
			Expect(got.AccessToken).To(Equal(created.AccessToken))
			Expect(got.URL).To(Equal(created.URL))
			Expect(got.Status).To(Equal(apiv1.StatusPending))
		})

		It("404s for an unknown instance", func() {
			rec := do(srv, httptest.NewRequest(http.MethodGet, "/instances/ghost-00000000", nil))
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(detail(rec)).To(Equal("Instance not found"))
		})

		It("deletes an instance exactly once", func() {
			created := createSimple("alice")

			rec := do(srv, httptest.NewRequest(http.MethodDelete, "/instances/"+created.InstanceID, nil))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var del apiv1.DeleteResponse
			decode(rec, &del)
			Expect(del.Status).To(Equal(apiv1.StatusDeleted))

			again := do(srv, httptest.NewRequest(http.MethodDelete, "/instances/"+created.InstanceID, nil))
			Expect(again.Code).To(Equal(http.StatusNotFound))
		})
	})
})
