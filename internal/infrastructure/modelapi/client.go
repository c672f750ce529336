// Package modelapi implements inference.DockingModel over the HTTP API the
// model server exposes. The pipeline stays process-local; the GPU-bound
// model runs wherever it likes.
package modelapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/moltools/dockscreen/internal/domain/molecule"
	"github.com/moltools/dockscreen/internal/inference"
	"github.com/moltools/dockscreen/internal/infrastructure/logging"
	"github.com/moltools/dockscreen/pkg/errors"
	"github.com/moltools/dockscreen/pkg/types/mol"
)

// predictPath is the model server's batched prediction endpoint.
const predictPath = "/v1/predict"

// Client calls a remote model server.
type Client struct {
	endpoint string
	http     *http.Client
	log      logging.Logger
	seed     int64
}

// NewClient builds a client for the server at endpoint. A non-positive
// timeout disables the client-side deadline; callers then bound requests
// through their context.
func NewClient(endpoint string, timeout time.Duration, log logging.Logger) *Client {
	if log == nil {
		log = logging.NewNopLogger()
	}
	if timeout < 0 {
		timeout = 0
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		log:      log,
		seed:     1,
	}
}

// WithSeed sets the random seed sent with every prediction request so the
// server samples reproducibly across resumed runs.
func (c *Client) WithSeed(seed int64) *Client {
	c.seed = seed
	return c
}

type ligandPayload struct {
	Index    int          `json:"index"`
	Name     string       `json:"name"`
	Elements []string     `json:"elements"`
	Bonds    [][3]int     `json:"bonds"`
	Coords   [][3]float64 `json:"coords"`
}

type predictRequest struct {
	Receptor struct {
		Name string `json:"name"`
		Path string `json:"path"`
	} `json:"receptor"`
	Ligands []ligandPayload `json:"ligands"`
	Seed    int64           `json:"seed"`
}

type predictResponse struct {
	Coords       [][][3]float64  `json:"coords"`
	LigKeypoints [][][3]float64  `json:"lig_keypoints,omitempty"`
	RecKeypoints [][][3]float64  `json:"rec_keypoints,omitempty"`
	Rotations    [][3][3]float64 `json:"rotations,omitempty"`
	Translations [][3]float64    `json:"translations,omitempty"`
	GeomLosses   []float64       `json:"geom_losses,omitempty"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Structural bool   `json:"structural"`
}

// PredictBatch submits the whole group in one request.
func (c *Client) PredictBatch(ctx context.Context, receptor inference.Receptor, items []inference.GroupItem) (*inference.ModelOutput, error) {
	return c.predict(ctx, receptor, items)
}

// PredictOne submits a single ligand.
func (c *Client) PredictOne(ctx context.Context, receptor inference.Receptor, item inference.GroupItem) (*inference.ModelOutput, error) {
	return c.predict(ctx, receptor, []inference.GroupItem{item})
}

func (c *Client) predict(ctx context.Context, receptor inference.Receptor, items []inference.GroupItem) (*inference.ModelOutput, error) {
	reqBody := predictRequest{
		Ligands: make([]ligandPayload, 0, len(items)),
		Seed:    c.seed,
	}
	reqBody.Receptor.Name = receptor.Name
	reqBody.Receptor.Path = receptor.Path
	for _, it := range items {
		payload, err := encodeLigand(it)
		if err != nil {
			return nil, err
		}
		reqBody.Ligands = append(reqBody.Ligands, payload)
	}

	raw, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "encoding prediction request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+predictPath, bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "building prediction request")
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeModelUnavailable, "calling model server")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeModelUnavailable, "reading model response")
	}
	c.log.Debug("model call finished",
		logging.Int("ligands", len(items)),
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", time.Since(started)),
	)

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp.StatusCode, body)
	}

	var out predictResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.Wrap(err, errors.CodeModelOutput, "decoding model response")
	}
	return out.toModelOutput(), nil
}

// encodeLigand flattens a molecule's topology and input conformer into the
// wire form.
func encodeLigand(it inference.GroupItem) (ligandPayload, error) {
	m := it.Molecule
	coords, err := m.Coordinates(molecule.ConformerInput)
	if err != nil {
		return ligandPayload{}, err
	}
	p := ligandPayload{
		Index:    it.Index,
		Name:     m.DisplayName(it.Index),
		Elements: make([]string, m.NumAtoms()),
		Bonds:    make([][3]int, 0, len(m.Bonds())),
		Coords:   make([][3]float64, m.NumAtoms()),
	}
	for i, atom := range m.Atoms() {
		p.Elements[i] = atom.Element
		p.Coords[i] = [3]float64(coords[i])
	}
	for _, b := range m.Bonds() {
		p.Bonds = append(p.Bonds, [3]int{b.A, b.B, b.Order})
	}
	return p, nil
}

// decodeError maps a non-200 response onto the runner's error taxonomy.
// 422 marks a group the server could not featurize as a unit; the runner
// reacts by unbatching.
func decodeError(status int, body []byte) error {
	var eresp errorResponse
	msg := ""
	if json.Unmarshal(body, &eresp) == nil {
		msg = eresp.Error
	}
	if msg == "" {
		msg = fmt.Sprintf("model server returned status %d", status)
	}
	if status == http.StatusUnprocessableEntity || eresp.Structural {
		return errors.StructuralIncompatibility(msg)
	}
	return errors.New(errors.CodeModelUnavailable, msg)
}

func (r *predictResponse) toModelOutput() *inference.ModelOutput {
	out := &inference.ModelOutput{
		Coords:       toVecSets(r.Coords),
		LigKeypoints: toVecSets(r.LigKeypoints),
		RecKeypoints: toVecSets(r.RecKeypoints),
		GeomLosses:   r.GeomLosses,
	}
	for _, rot := range r.Rotations {
		out.Rotations = append(out.Rotations, mol.Mat3(rot))
	}
	for _, tr := range r.Translations {
		out.Translations = append(out.Translations, mol.Vec3(tr))
	}
	return out
}

func toVecSets(in [][][3]float64) [][]mol.Vec3 {
	if in == nil {
		return nil
	}
	out := make([][]mol.Vec3, len(in))
	for i, set := range in {
		vs := make([]mol.Vec3, len(set))
		for j, p := range set {
			vs[j] = mol.Vec3(p)
		}
		out[i] = vs
	}
	return out
}
