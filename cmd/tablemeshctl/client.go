package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// adminClient is a thin REST client over one node's management HTTP
// surface (pkg/adminhttp), mirroring the JSON shapes that package's
// handlers produce without importing its unexported request/response
// types.
type adminClient struct {
	baseURL string
	http    *http.Client
}

func newAdminClient(addr string) *adminClient {
	return &adminClient{
		baseURL: "http://" + addr,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type problemDetail struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (c *adminClient) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var problem problemDetail
		_ = json.NewDecoder(resp.Body).Decode(&problem)
		if problem.Title != "" {
			return fmt.Errorf("%s %s: %d %s: %s", method, path, resp.StatusCode, problem.Title, problem.Detail)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type clusterInitRequest struct {
	ClusterName      string   `json:"cluster_name"`
	MetaStorageNodes []string `json:"meta_storage_nodes"`
	CMGNodes         []string `json:"cmg_nodes"`
}

func (c *adminClient) ClusterInit(req clusterInitRequest) error {
	return c.do(http.MethodPost, "/management/v1/cluster/init", req, nil)
}

type clusterStateResponse struct {
	CMGNodes   []string `json:"cmg_nodes"`
	MSNodes    []string `json:"ms_nodes"`
	ClusterTag struct {
		ClusterName string `json:"cluster_name"`
	} `json:"cluster_tag"`
}

func (c *adminClient) ClusterState() (clusterStateResponse, error) {
	var out clusterStateResponse
	err := c.do(http.MethodGet, "/management/v1/cluster/state", nil, &out)
	return out, err
}

type nodeDescriptor struct {
	ID          string `json:"id"`
	CMGAddress  string `json:"cmg_address,omitempty"`
	RaftAddress string `json:"raft_address,omitempty"`
	WireAddress string `json:"wire_address,omitempty"`
}

func (c *adminClient) ClusterTopology(kind string) ([]nodeDescriptor, error) {
	var out []nodeDescriptor
	err := c.do(http.MethodGet, "/management/v1/cluster/topology/"+kind, nil, &out)
	return out, err
}

type nodeStateResponse struct {
	NodeID string `json:"node_id"`
	State  string `json:"state"`
	Leader bool   `json:"leader"`
}

func (c *adminClient) NodeState() (nodeStateResponse, error) {
	var out nodeStateResponse
	err := c.do(http.MethodGet, "/management/v1/node/state", nil, &out)
	return out, err
}
