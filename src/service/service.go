package service

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/halonetworks/halo/src/node"
	"github.com/halonetworks/halo/src/peers"
	"github.com/halonetworks/halo/src/recovery"
	"github.com/halonetworks/halo/src/tree"
	"github.com/halonetworks/halo/src/types"
)

// Service exposes the node's read API and the guardian ceremony endpoints
// over HTTP.
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	logger      *logrus.Entry
}

// NewService instantiates a Service and registers its handlers.
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the DefaultServerMux of
// the http package. It is possible that another server in the same process
// is simultaneously using the DefaultServerMux. In which case, the handlers
// will be accessible from both servers. This is usefull when Halo is used
// in-memory and expected to use the same endpoint (address:port) as the
// application's API.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering Halo API handlers")
	http.HandleFunc("/stats", s.makeHandler(s.GetStats))
	http.HandleFunc("/op/", s.makeHandler(s.GetOp))
	http.HandleFunc("/intents", s.makeHandler(s.GetIntents))
	http.HandleFunc("/peers", s.makeHandler(s.GetPeers))
	http.HandleFunc("/submit", s.makeHandler(s.Submit))
	http.HandleFunc("/receipts", s.makeHandler(s.GetReceipts))
	http.HandleFunc("/ceremonies", s.makeHandler(s.InitiateCeremony))
	http.HandleFunc("/ceremony/", s.makeHandler(s.Ceremony))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Serve calls ListenAndServe. This is a blocking call. It is not necessary
// to call Serve when Halo is used in-memory and another server has already
// been started with the DefaultServerMux and the same address:port
// combination. Indeed, Halo API handlers have already been registered when
// the service was instantiated.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving Halo API")

	// Use the DefaultServerMux
	err := http.ListenAndServe(s.bindAddress, nil)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetStats returns the node's headline numbers.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.node.GetStats()

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(stats)
}

// GetOp returns the attested op that produced a given epoch.
func (s *Service) GetOp(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/op/"):]

	epoch, err := strconv.ParseUint(param, 10, 64)
	if err != nil {
		s.logger.WithError(err).Errorf("Parsing epoch parameter %s", param)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	op, err := s.node.GetOp(types.Epoch(epoch))
	if err != nil {
		s.logger.WithError(err).Errorf("Retrieving op %d", epoch)
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(op)
}

// GetIntents returns the pending intent pool.
func (s *Service) GetIntents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(s.node.GetPendingIntents())
}

// GetPeers returns the peer set.
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	returnPeerSet(w, r, s.node.GetPeers())
}

// Submit accepts a tree op and drives it through a signing round. It blocks
// until the round decides.
func (s *Service) Submit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var op tree.Op
	if err := json.NewDecoder(r.Body).Decode(&op); err != nil {
		s.logger.WithError(err).Error("Decoding submitted op")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	inst, err := s.node.Sign(op)
	if err != nil {
		s.logger.WithError(err).Error("Signing submitted op")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(map[string]string{
		"cid":   inst.CID.Short(),
		"phase": inst.Phase().String(),
		"path":  inst.Path.String(),
	})
}

// GetReceipts returns guard-chain receipts above the skip parameter.
func (s *Service) GetReceipts(w http.ResponseWriter, r *http.Request) {
	skip := -1
	if param := r.URL.Query().Get("skip"); param != "" {
		var err error
		skip, err = strconv.Atoi(param)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	receipts, err := s.node.GetReceipts(skip)
	if err != nil {
		s.logger.WithError(err).Error("Retrieving receipts")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(receipts)
}

// ceremonyRequest is the body of a ceremony initiation.
type ceremonyRequest struct {
	Initiator types.LeafID `json:"initiator"`
	Op        tree.Op      `json:"op"`
	Threshold uint16       `json:"threshold"`
}

// ceremonyView is the JSON shape of a ceremony's status.
type ceremonyView struct {
	CeremonyID string `json:"ceremony_id"`
	Status     string `json:"status"`
	Approvals  int    `json:"approvals"`
	Threshold  uint16 `json:"threshold"`
	ClosesAt   string `json:"window_closes_at"`
	Error      string `json:"error,omitempty"`
}

// InitiateCeremony opens a guardian recovery ceremony.
func (s *Service) InitiateCeremony(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var req ceremonyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ceremony, err := s.node.InitiateCeremony(req.Initiator, req.Op, req.Threshold)
	if err != nil {
		s.logger.WithError(err).Error("Initiating ceremony")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	returnCeremony(w, ceremony)
}

// Ceremony serves /ceremony/{id} and /ceremony/{id}/finalize.
func (s *Service) Ceremony(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/ceremony/"):]

	finalize := false
	if idx := len(param) - len("/finalize"); idx > 0 && param[idx:] == "/finalize" {
		finalize = true
		param = param[:idx]
	}

	var id types.CeremonyID
	raw, err := hex.DecodeString(param)
	if err != nil || len(raw) != len(id) {
		http.Error(w, "invalid ceremony id", http.StatusBadRequest)
		return
	}
	copy(id[:], raw)

	if finalize {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}

		ceremony, err := s.node.FinalizeCeremony(id)
		if err != nil {
			s.logger.WithError(err).Error("Finalizing ceremony")
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		returnCeremony(w, ceremony)
		return
	}

	ceremony, ok := s.node.GetCeremony(id)
	if !ok {
		http.Error(w, "ceremony not found", http.StatusNotFound)
		return
	}
	returnCeremony(w, ceremony)
}

func returnCeremony(w http.ResponseWriter, c *recovery.Ceremony) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(ceremonyView{
		CeremonyID: hex.EncodeToString(c.CeremonyID[:]),
		Status:     c.Status().String(),
		Approvals:  c.Approvals(),
		Threshold:  c.Threshold,
		ClosesAt:   c.WindowClosesAt().String(),
		Error:      c.ErrorMessage(),
	})
}

func returnPeerSet(w http.ResponseWriter, r *http.Request, peers []*peers.Peer) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(peers)
}
