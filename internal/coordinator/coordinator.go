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

// Package coordinator is the instance lifecycle state machine. It owns every
// object prefixed by an instance id: creation order, the asynchronous build
// pipeline, status composition, and full teardown. The service holds no state
// of its own; everything the coordinator knows it reads back from the
// cluster.
package coordinator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	apiv1 "github.com/jeffvincent/devspawn/api/v1"
	"github.com/jeffvincent/devspawn/internal/archive"
	"github.com/jeffvincent/devspawn/internal/builder"
	"github.com/jeffvincent/devspawn/internal/config"
	"github.com/jeffvincent/devspawn/internal/devcontainer"
	"github.com/jeffvincent/devspawn/internal/gateway"
	"github.com/jeffvincent/devspawn/internal/naming"
	"github.com/jeffvincent/devspawn/internal/template"
	"github.com/jeffvincent/devspawn/internal/tracker"
)

// apiPathPrefix is where the ingress controller mounts this API, used only
// for composing absolute build-logs URLs handed back to clients.
const apiPathPrefix = "/api"

// trackerGracePeriod is how long a terminal build record stays readable
// before garbage collection.
const trackerGracePeriod = 300 * time.Second

// ErrNotFound is returned when an instance does not exist in any form.
var ErrNotFound = gateway.ErrNotFound

// BuildSource is the input of a build-backed create: either a parsed
// devcontainer.json or a gzipped workspace archive, never both.
type BuildSource struct {
	Devcontainer *devcontainer.Config
	Archive      []byte
}

func (s BuildSource) mode() string {
	if s.Archive != nil {
		return "workspace"
	}
	return "devcontainer"
}

// Coordinator orchestrates instance lifecycles.
type Coordinator struct {
	cfg *config.Config
	gw  *gateway.Gateway
	trk *tracker.Tracker
	bld builder.Builder
	fs  afero.Fs
	log logr.Logger

	// cleanupDelay is shortened by tests.
	cleanupDelay time.Duration
}

// New returns a Coordinator wired to the given collaborators.
func New(cfg *config.Config, gw *gateway.Gateway, trk *tracker.Tracker, bld builder.Builder, fs afero.Fs, log logr.Logger) *Coordinator {
	return &Coordinator{
		cfg:          cfg,
		gw:           gw,
		trk:          trk,
		bld:          bld,
		fs:           fs,
		log:          log,
		cleanupDelay: trackerGracePeriod,
	}
}

// CreateSimple provisions an instance on the base image with no build.
func (c *Coordinator) CreateSimple(ctx context.Context, req apiv1.VSCodeServerRequest) (*apiv1.VSCodeServerResponse, error) {
	req.ApplyDefaults(c.cfg.Defaults)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	id, err := naming.InstanceID(req.UserID)
	if err != nil {
		return nil, err
	}
	token := naming.AccessToken()

	params := c.params(id, token, req, "", devcontainer.VSCodeCustomizations{})
	if err := c.createObjects(ctx, params); err != nil {
		return nil, err
	}

	instancesCreated.WithLabelValues("simple").Inc()
	c.log.Info("created instance", "instance", id, "user", req.UserID)
	return &apiv1.VSCodeServerResponse{
		InstanceID:  id,
		URL:         c.url(id, token),
		AccessToken: token,
		Status:      apiv1.StatusCreating,
		BaseImage:   req.BaseImage,
	}, nil
}

// CreateWithBuild enqueues a build-backed create and returns immediately.
// The caller gets the predicted URL, token, and image reference; progress is
// visible through the build tracker. The background job runs on a detached
// context so a client disconnect never cancels an accepted build.
func (c *Coordinator) CreateWithBuild(ctx context.Context, req apiv1.VSCodeServerRequest, src BuildSource) (*apiv1.VSCodeServerResponse, error) {
	req.ApplyDefaults(c.cfg.Defaults)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	id, err := naming.InstanceID(req.UserID)
	if err != nil {
		return nil, err
	}
	token := naming.AccessToken()
	image := naming.DevcontainerImage(c.cfg.PullRegistry, id)

	err = c.trk.Start(ctx, tracker.Record{
		InstanceID:        id,
		UserID:            req.UserID,
		Token:             token,
		DevcontainerImage: image,
		Request:           req,
	})
	if err != nil {
		return nil, err
	}

	instancesCreated.WithLabelValues(src.mode()).Inc()
	c.log.Info("queued build", "instance", id, "user", req.UserID, "mode", src.mode())
	go c.runBuild(id, token, req, src)

	return &apiv1.VSCodeServerResponse{
		InstanceID:        id,
		URL:               c.url(id, token),
		AccessToken:       token,
		Status:            apiv1.StatusQueued,
		BaseImage:         req.BaseImage,
		DevcontainerImage: image,
		BuildLogsURL:      c.logsURL(id),
	}, nil
}

// runBuild is the background pipeline of a build-backed create.
func (c *Coordinator) runBuild(id, token string, req apiv1.VSCodeServerRequest, src BuildSource) {
	ctx := context.Background()
	log := c.log.WithValues("instance", id)

	buildsInFlight.Inc()
	defer buildsInFlight.Dec()

	// A DELETE while the build runs removes the tracker record. Every
	// transition hitting NotFound from then on means the instance is gone
	// and the build must be abandoned without creating any object; at worst
	// an orphan image is left in the registry.
	fail := func(cause error, logs string) {
		buildsTotal.WithLabelValues("failed").Inc()
		log.Error(cause, "build failed")
		if err := c.trk.Fail(ctx, id, cause); err != nil {
			if errors.Is(err, gateway.ErrNotFound) {
				log.Info("instance deleted during build, discarding failure")
				return
			}
			log.Error(err, "could not record build failure")
		}
		if logs != "" {
			if logErr := c.trk.WriteLogs(ctx, id, req.UserID, logs); logErr != nil {
				log.Error(logErr, "could not persist build logs")
			}
		}
		c.scheduleCleanup(id)
	}

	if err := c.trk.SetState(ctx, id, tracker.StateBuilding); err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			buildsTotal.WithLabelValues("abandoned").Inc()
			log.Info("instance deleted before build start, abandoning")
			return
		}
		log.Error(err, "could not record building state")
	}

	workspaceDir := filepath.Join(c.cfg.BuildRoot, id)
	if err := c.fs.MkdirAll(workspaceDir, 0o755); err != nil {
		fail(fmt.Errorf("create build workspace: %w", err), "")
		return
	}
	defer func() {
		if err := c.fs.RemoveAll(workspaceDir); err != nil {
			log.Error(err, "could not remove build workspace", "dir", workspaceDir)
		}
	}()

	customizations, breq, err := c.prepareWorkspace(id, workspaceDir, src)
	if err != nil {
		fail(err, "")
		return
	}

	imageRef, logs, err := c.bld.Build(ctx, breq)
	if err != nil {
		fail(err, logs)
		return
	}

	if err := c.trk.SetState(ctx, id, tracker.StateDeploying); err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			buildsTotal.WithLabelValues("abandoned").Inc()
			log.Info("instance deleted during build, abandoning", "image", imageRef)
			return
		}
		log.Error(err, "could not record deploying state")
	}

	if logs != "" {
		if logErr := c.trk.WriteLogs(ctx, id, req.UserID, logs); logErr != nil {
			log.Error(logErr, "could not persist build logs")
		}
	}

	params := c.params(id, token, req, imageRef, customizations)
	if err := c.createObjects(ctx, params); err != nil {
		fail(err, "")
		return
	}

	if err := c.trk.SetState(ctx, id, tracker.StateCompleted); err != nil {
		log.Error(err, "could not record completed state")
	}
	buildsTotal.WithLabelValues("completed").Inc()
	log.Info("build completed", "image", imageRef)
	c.scheduleCleanup(id)
}

// prepareWorkspace materializes the build input and extracts the editor
// customizations that must survive into the session ConfigMap.
func (c *Coordinator) prepareWorkspace(id, workspaceDir string, src BuildSource) (devcontainer.VSCodeCustomizations, builder.Request, error) {
	breq := builder.Request{InstanceID: id, WorkspaceDir: workspaceDir}

	if src.Archive != nil {
		if err := archive.Extract(c.fs, bytes.NewReader(src.Archive), workspaceDir); err != nil {
			return devcontainer.VSCodeCustomizations{}, breq, err
		}
		path, err := archive.FindDevcontainerJSON(c.fs, workspaceDir)
		if err != nil {
			return devcontainer.VSCodeCustomizations{}, breq, err
		}
		data, err := afero.ReadFile(c.fs, path)
		if err != nil {
			return devcontainer.VSCodeCustomizations{}, breq, err
		}
		cfg, err := devcontainer.Parse(data)
		if err != nil {
			return devcontainer.VSCodeCustomizations{}, breq, err
		}
		return cfg.VSCode(), breq, nil
	}

	breq.Devcontainer = src.Devcontainer
	return src.Devcontainer.VSCode(), breq, nil
}

// createObjects provisions the full object set for one instance in fixed
// order: shared claim, config record, workspace claim, workload, service,
// ingress.
func (c *Coordinator) createObjects(ctx context.Context, p template.Params) error {
	shared, err := template.SharedPVC(p.UserID, p.SharedStorageSize)
	if err != nil {
		return err
	}
	if _, err := c.gw.EnsurePVC(ctx, shared); err != nil {
		return err
	}

	cm, err := template.ConfigMap(p)
	if err != nil {
		return err
	}
	if _, err := c.gw.EnsureConfigMap(ctx, cm); err != nil {
		return err
	}

	workspace, err := template.WorkspacePVC(p)
	if err != nil {
		return err
	}
	if _, err := c.gw.EnsurePVC(ctx, workspace); err != nil {
		return err
	}

	deploy, err := template.Deployment(p)
	if err != nil {
		return err
	}
	if _, err := c.gw.EnsureDeployment(ctx, deploy); err != nil {
		return err
	}
	if _, err := c.gw.EnsureService(ctx, template.Service(p)); err != nil {
		return err
	}
	if _, err := c.gw.EnsureIngress(ctx, template.Ingress(p)); err != nil {
		return err
	}
	return nil
}

// Get composes the current view of one instance. While a build is in flight
// the view comes from the tracker record, so the URL and token it reports
// are already the ones the finished instance will use.
func (c *Coordinator) Get(ctx context.Context, id string) (*apiv1.VSCodeServerResponse, error) {
	cm, err := c.gw.GetConfigMap(ctx, naming.ConfigName(id))
	if err != nil {
		if !errors.Is(err, gateway.ErrNotFound) {
			return nil, err
		}
		return c.getFromTracker(ctx, id)
	}

	token := cm.Data["TOKEN"]
	resp := &apiv1.VSCodeServerResponse{
		InstanceID:        id,
		URL:               c.url(id, token),
		AccessToken:       token,
		Status:            c.instanceStatus(ctx, id),
		BaseImage:         cm.Data["BASE_IMAGE"],
		DevcontainerImage: cm.Data["DEVCONTAINER_IMAGE"],
	}
	if _, err := c.gw.GetConfigMap(ctx, naming.BuildLogsName(id)); err == nil {
		resp.BuildLogsURL = c.logsURL(id)
	}
	return resp, nil
}

func (c *Coordinator) getFromTracker(ctx context.Context, id string) (*apiv1.VSCodeServerResponse, error) {
	rec, err := c.trk.Read(ctx, id)
	if err != nil {
		return nil, err
	}

	var status string
	switch rec.State {
	case tracker.StateQueued:
		status = apiv1.StatusQueued
	case tracker.StateBuilding:
		status = apiv1.StatusBuilding
	case tracker.StateDeploying:
		status = apiv1.StatusDeploying
	default:
		// Failed builds create no objects; a completed record without a
		// config record is a torn-down instance.
		return nil, ErrNotFound
	}

	return &apiv1.VSCodeServerResponse{
		InstanceID:        id,
		URL:               c.url(id, rec.Token),
		AccessToken:       rec.Token,
		Status:            status,
		BaseImage:         rec.Request.BaseImage,
		DevcontainerImage: rec.DevcontainerImage,
		BuildLogsURL:      c.logsURL(id),
	}, nil
}

// List returns every instance in the namespace.
func (c *Coordinator) List(ctx context.Context) (*apiv1.VSCodeServerList, error) {
	cms, err := c.gw.ListConfigMaps(ctx, map[string]string{naming.LabelApp: naming.App})
	if err != nil {
		return nil, err
	}

	list := &apiv1.VSCodeServerList{Instances: []apiv1.VSCodeServerResponse{}}
	for i := range cms.Items {
		cm := &cms.Items[i]
		id := cm.Labels[naming.LabelInstance]
		if id == "" || cm.Name != naming.ConfigName(id) {
			continue
		}
		resp, err := c.Get(ctx, id)
		if err != nil {
			if errors.Is(err, gateway.ErrNotFound) {
				continue
			}
			return nil, err
		}
		list.Instances = append(list.Instances, *resp)
	}
	return list, nil
}

// Delete tears down an instance in the exact reverse of creation order.
// Every step tolerates objects that are already gone, so a delete after a
// failed build or a concurrent delete still converges. The per-user shared
// claim is never touched.
func (c *Coordinator) Delete(ctx context.Context, id string) (*apiv1.DeleteResponse, error) {
	if !c.exists(ctx, id) {
		return nil, ErrNotFound
	}

	var errs *multierror.Error
	tolerate := func(err error) {
		if err != nil && !errors.Is(err, gateway.ErrNotFound) {
			errs = multierror.Append(errs, err)
		}
	}

	tolerate(c.gw.DeleteIngress(ctx, naming.IngressName(id)))
	tolerate(c.gw.DeleteService(ctx, naming.ServiceName(id)))
	tolerate(c.gw.DeleteDeployment(ctx, naming.DeploymentName(id)))
	tolerate(c.gw.DeleteConfigMap(ctx, naming.ConfigName(id)))
	tolerate(c.gw.DeleteConfigMap(ctx, naming.BuildLogsName(id)))
	tolerate(c.gw.DeletePVC(ctx, naming.WorkspacePVCName(id)))
	tolerate(c.trk.Delete(ctx, id))

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	instancesDeleted.Inc()
	c.log.Info("deleted instance", "instance", id)
	return &apiv1.DeleteResponse{InstanceID: id, Status: apiv1.StatusDeleted}, nil
}

// exists reports whether any trace of the instance remains. Failed builds
// leave only tracker and log records, and those must stay reclaimable.
func (c *Coordinator) exists(ctx context.Context, id string) bool {
	if _, err := c.gw.GetConfigMap(ctx, naming.ConfigName(id)); err == nil {
		return true
	}
	if _, err := c.gw.GetDeployment(ctx, naming.DeploymentName(id)); err == nil {
		return true
	}
	if _, err := c.gw.GetConfigMap(ctx, naming.BuildStatusName(id)); err == nil {
		return true
	}
	if _, err := c.gw.GetConfigMap(ctx, naming.BuildLogsName(id)); err == nil {
		return true
	}
	return false
}

// BuildStatus reports the tracked state of an instance's build.
func (c *Coordinator) BuildStatus(ctx context.Context, id string) (*apiv1.BuildStatusResponse, error) {
	rec, err := c.trk.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	return &apiv1.BuildStatusResponse{
		InstanceID: id,
		Status:     rec.State,
		Error:      rec.Error,
	}, nil
}

// BuildLogs returns the captured build output of an instance.
func (c *Coordinator) BuildLogs(ctx context.Context, id string) (*apiv1.BuildLogsResponse, error) {
	logs, err := c.trk.ReadLogs(ctx, id)
	if err != nil {
		return nil, err
	}
	status := ""
	if rec, err := c.trk.Read(ctx, id); err == nil {
		status = rec.State
	}
	return &apiv1.BuildLogsResponse{
		InstanceID: id,
		Status:     status,
		Logs:       logs,
	}, nil
}

// instanceStatus derives the reported status from workload availability.
func (c *Coordinator) instanceStatus(ctx context.Context, id string) string {
	deploy, err := c.gw.GetDeployment(ctx, naming.DeploymentName(id))
	if err != nil {
		return apiv1.StatusNotFound
	}
	if deploy.Status.AvailableReplicas >= 1 {
		return apiv1.StatusRunning
	}
	return apiv1.StatusPending
}

func (c *Coordinator) scheduleCleanup(id string) {
	time.AfterFunc(c.cleanupDelay, func() {
		if err := c.trk.Delete(context.Background(), id); err != nil {
			c.log.Error(err, "could not garbage-collect build record", "instance", id)
		}
	})
}

func (c *Coordinator) params(id, token string, req apiv1.VSCodeServerRequest, image string, customizations devcontainer.VSCodeCustomizations) template.Params {
	return template.Params{
		InstanceID:        id,
		UserID:            req.UserID,
		AccessToken:       token,
		BaseImage:         req.BaseImage,
		DevcontainerImage: image,
		VSCodeVersion:     req.VSCodeVersion,
		StorageSize:       req.StorageSize,
		SharedStorageSize: req.SharedStorageSize,
		MemoryRequest:     req.MemoryRequest,
		MemoryLimit:       req.MemoryLimit,
		CPURequest:        req.CPURequest,
		CPULimit:          req.CPULimit,
		BaseDomain:        c.cfg.BaseDomain,
		TLSSecretName:     c.cfg.TLSSecretName,
		Customizations:    customizations,
	}
}

func (c *Coordinator) url(id, token string) string {
	return fmt.Sprintf("https://%s%s?tkn=%s", c.cfg.BaseDomain, naming.InstancePath(id), token)
}

func (c *Coordinator) logsURL(id string) string {
	return fmt.Sprintf("https://%s%s/instances/%s/build-logs", c.cfg.BaseDomain, apiPathPrefix, id)
}
