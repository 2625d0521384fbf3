package backend

import (
	"context"
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/webpods-org/webpods/core"
	"github.com/webpods-org/webpods/core/access"
	"github.com/webpods-org/webpods/core/logger"
)

// streamsAPIPath is the computed stream index endpoint of a pod.
const streamsAPIPath = "/.config/api/streams"

func (b *Backend) handleRoutes(router *mux.Router) {
	logger.Default().Debugln("backend: handle routes")

	main := router.MatcherFunc(b.matchMainHost).Subrouter()
	main.HandleFunc("/healthz", b.healthHandler).Methods(http.MethodGet)
	main.HandleFunc("/pods", b.podCreateHandler).Methods(http.MethodPost)
	main.HandleFunc("/pods", b.podListHandler).Methods(http.MethodGet)
	main.HandleFunc("/pods/{pod}", b.podDeleteHandler).Methods(http.MethodDelete)

	pods := router.MatcherFunc(b.matchPodHost).Subrouter()
	pods.Handle(streamsAPIPath, handlers.CompressHandler(http.HandlerFunc(b.streamIndexHandler))).Methods(http.MethodGet)
	pods.PathPrefix("/").Handler(handlers.CompressHandler(http.HandlerFunc(b.readHandler))).Methods(http.MethodGet, http.MethodHead)
	pods.PathPrefix("/").HandlerFunc(b.writeHandler).Methods(http.MethodPost, http.MethodPut)
	pods.PathPrefix("/").HandlerFunc(b.patchStreamHandler).Methods(http.MethodPatch)
	pods.PathPrefix("/").HandlerFunc(b.deleteHandler).Methods(http.MethodDelete)
}

// hostName strips an optional port from a host header value.
func hostName(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func (b *Backend) matchMainHost(r *http.Request, _ *mux.RouteMatch) bool {
	return hostName(r.Host) == b.config.Host
}

// matchPodHost matches {pod}.{host} requests and extracts the pod name
// from the subdomain label.
func (b *Backend) matchPodHost(r *http.Request, match *mux.RouteMatch) bool {
	host := hostName(r.Host)
	suffix := "." + b.config.Host
	if !strings.HasSuffix(host, suffix) {
		return false
	}
	pod := strings.TrimSuffix(host, suffix)
	if !core.ValidPodName(pod) {
		return false
	}
	if match.Vars == nil {
		match.Vars = map[string]string{}
	}
	match.Vars["pod"] = pod
	return true
}

func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	body, err := json.Marshal(value)
	if err != nil {
		core.WriteError(w, core.NewError(core.KindInternalError, "cannot serialize response").WithCause(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func requestUserID(r *http.Request) string {
	if identity := access.IdentityFromContext(r.Context()); identity != nil {
		return identity.UserID
	}
	return ""
}

// rateIdentifier keys the rate limiter: the authenticated user, or the
// client address for anonymous requests.
func rateIdentifier(r *http.Request) string {
	if userID := requestUserID(r); userID != "" {
		return "user:" + userID
	}
	addr := r.Header.Get("X-Forwarded-For")
	if addr != "" {
		if i := strings.IndexRune(addr, ','); i >= 0 {
			addr = addr[:i]
		}
		return "ip:" + strings.TrimSpace(addr)
	}
	return "ip:" + hostName(r.RemoteAddr)
}

// checkRate counts the request against the limiter and writes the rate
// headers. It returns false after writing the 429 response when the
// request is over the limit. Limiter failures let the request through.
func (b *Backend) checkRate(w http.ResponseWriter, r *http.Request, action core.Action) bool {
	result, err := b.limiter.CheckAndIncrement(r.Context(), rateIdentifier(r), action)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("rate limiter unavailable")
		return true
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))
	if result.Allowed {
		return true
	}
	core.WriteError(w, core.NewError(core.KindRateLimitExceeded, "rate limit exceeded").
		WithDetails(map[string]interface{}{"resetAt": result.ResetAt}))
	return false
}

// podContext validates the pod and the credential scope of the request.
func (b *Backend) podContext(w http.ResponseWriter, r *http.Request) (pod string, ok bool) {
	pod = mux.Vars(r)["pod"]
	if _, err := b.GetPod(r.Context(), pod); err != nil {
		core.WriteError(w, err)
		return "", false
	}
	if err := access.CheckPodScope(access.IdentityFromContext(r.Context()), pod); err != nil {
		core.WriteError(w, err)
		return "", false
	}
	return pod, true
}

func (b *Backend) healthHandler(w http.ResponseWriter, r *http.Request) {
	if err := b.db.PingContext(r.Context()); err != nil {
		core.WriteError(w, core.NewError(core.KindDatabaseError, "database unavailable").WithCause(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (b *Backend) podCreateHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := requestUserID(r)
	if userID == "" {
		core.WriteError(w, core.NewError(core.KindUnauthorized, "pod creation requires authentication"))
		return
	}
	if !b.checkRate(w, r, core.ActionPodCreate) {
		return
	}

	var request struct {
		Name string `json:"name"`
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil || json.Unmarshal(body, &request) != nil {
		core.WriteError(w, core.NewError(core.KindInvalidInput, "cannot parse request body"))
		return
	}

	pod, err := b.CreatePod(ctx, request.Name, userID)
	if err != nil {
		core.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pod)
}

func (b *Backend) podListHandler(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	if userID == "" {
		core.WriteError(w, core.NewError(core.KindUnauthorized, "listing pods requires authentication"))
		return
	}
	if !b.checkRate(w, r, core.ActionRead) {
		return
	}
	pods, err := b.ListPodsForUser(r.Context(), userID)
	if err != nil {
		core.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pods": pods})
}

func (b *Backend) podDeleteHandler(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	if userID == "" {
		core.WriteError(w, core.NewError(core.KindUnauthorized, "pod deletion requires authentication"))
		return
	}
	if !b.checkRate(w, r, core.ActionWrite) {
		return
	}
	if err := b.DeletePod(r.Context(), mux.Vars(r)["pod"], userID); err != nil {
		core.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// streamIndexHandler serves the computed stream index of a pod. The
// index lives under .config and follows its permissions.
func (b *Backend) streamIndexHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pod, ok := b.podContext(w, r)
	if !ok {
		return
	}
	if !b.checkRate(w, r, core.ActionRead) {
		return
	}

	configStream, err := b.GetStreamByPath(ctx, pod, core.SystemStreamPrefix)
	if err != nil {
		core.WriteError(w, err)
		return
	}
	if err := b.CheckPermission(ctx, configStream, requestUserID(r), core.ActionRead); err != nil {
		core.WriteError(w, err)
		return
	}

	streams, err := b.listStreams(ctx, pod)
	if err != nil {
		core.WriteError(w, err)
		return
	}
	index := make([]map[string]interface{}, 0, len(streams))
	for _, stream := range streams {
		index = append(index, map[string]interface{}{
			"path":             "/" + stream.Path,
			"accessPermission": stream.AccessPermission,
			"hasSchema":        stream.HasSchema,
			"createdAt":        stream.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"streams": index})
}

// indexQuery is a parsed ?i= query: a single index or a half-open range.
type indexQuery struct {
	single  int
	from    int
	to      int
	isRange bool
}

func parseIndexQuery(value string) (*indexQuery, error) {
	if i := strings.IndexRune(value, ':'); i >= 0 {
		from, err1 := strconv.Atoi(value[:i])
		to, err2 := strconv.Atoi(value[i+1:])
		if err1 != nil || err2 != nil {
			return nil, core.NewError(core.KindInvalidInput, "invalid index range "+value)
		}
		return &indexQuery{from: from, to: to, isRange: true}, nil
	}
	single, err := strconv.Atoi(value)
	if err != nil {
		return nil, core.NewError(core.KindInvalidInput, "invalid index "+value)
	}
	return &indexQuery{single: single}, nil
}

func parseListOptions(r *http.Request) (ListOptions, error) {
	opts := ListOptions{}
	query := r.URL.Query()
	if value := query.Get("limit"); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || limit < 0 {
			return opts, core.NewError(core.KindInvalidInput, "invalid limit "+value)
		}
		opts.Limit = limit
	}
	if value := query.Get("after"); value != "" {
		after, err := strconv.Atoi(value)
		if err != nil {
			return opts, core.NewError(core.KindInvalidInput, "invalid after "+value)
		}
		opts.After = &after
	}
	opts.Unique = query.Get("unique") == "true"
	if value := query.Get("fields"); value != "" {
		opts.Fields = strings.Split(value, ",")
	}
	if value := query.Get("truncate"); value != "" {
		truncate, err := strconv.Atoi(value)
		if err != nil || truncate < 0 {
			return opts, core.NewError(core.KindInvalidInput, "invalid truncate "+value)
		}
		opts.Truncate = truncate
	}
	return opts, nil
}

func (b *Backend) readHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pod, ok := b.podContext(w, r)
	if !ok {
		return
	}
	if !b.checkRate(w, r, core.ActionRead) {
		return
	}

	path := b.rewritePath(ctx, pod, r.URL.Path)
	query := r.URL.Query()

	var index *indexQuery
	if value := query.Get("i"); value != "" {
		var err error
		if index, err = parseIndexQuery(value); err != nil {
			core.WriteError(w, err)
			return
		}
	}

	// an index or recursive query always addresses a stream
	recursive := query.Get("recursive") == "true"
	target, err := b.resolveRead(ctx, pod, path, index != nil || recursive)
	if err != nil {
		core.WriteError(w, err)
		return
	}
	userID := requestUserID(r)
	if err := b.CheckPermission(ctx, target.stream, userID, core.ActionRead); err != nil {
		core.WriteError(w, err)
		return
	}

	if index != nil {
		if index.isRange {
			records, err := b.GetRecordRange(ctx, target.stream, index.from, index.to)
			if err != nil {
				core.WriteError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, &ListResult{Records: recordsToObjects(records), Total: len(records)})
			return
		}
		record, err := b.GetRecordByIndex(ctx, target.stream, index.single)
		if err != nil {
			core.WriteError(w, err)
			return
		}
		b.writeRecord(w, r, record)
		return
	}

	if target.recordName != "" {
		record, err := b.GetRecord(ctx, target.stream, target.recordName)
		if err != nil {
			core.WriteError(w, err)
			return
		}
		b.writeRecord(w, r, record)
		return
	}

	opts, err := parseListOptions(r)
	if err != nil {
		core.WriteError(w, err)
		return
	}
	var result *ListResult
	if recursive {
		result, err = b.ListRecordsRecursive(ctx, target.stream, userID, opts)
	} else {
		result, err = b.ListRecords(ctx, target.stream, opts)
	}
	if err != nil {
		core.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeRecord writes a single record response: the raw content under its
// content type, the chain metadata as X- headers, and the persisted
// custom headers. Externally stored content redirects to the storage URL.
func (b *Backend) writeRecord(w http.ResponseWriter, r *http.Request, record *Record) {
	w.Header().Set("X-Hash", record.Hash)
	if record.PreviousHash != nil {
		w.Header().Set("X-Previous-Hash", *record.PreviousHash)
	}
	w.Header().Set("X-Content-Hash", record.ContentHash)
	w.Header().Set("X-Author", record.UserID)
	w.Header().Set("X-Timestamp", timestampISO(record.CreatedAt))
	w.Header().Set("X-Index", strconv.Itoa(record.Index))
	for _, header := range b.config.AllowedHeaders {
		if value, ok := record.Headers[header]; ok {
			w.Header().Set(header, value)
		}
	}

	if record.Storage != nil && b.storage != nil {
		url, err := b.storage.URL(*record.Storage)
		if err != nil {
			core.WriteError(w, core.NewError(core.KindStorageError, "cannot resolve storage URL").WithCause(err))
			return
		}
		w.Header().Set("Location", url)
		w.WriteHeader(http.StatusFound)
		return
	}

	content := []byte(record.Content)
	if record.IsBinary {
		decoded, err := base64.StdEncoding.DecodeString(record.Content)
		if err != nil {
			core.WriteError(w, core.NewError(core.KindInternalError, "corrupt binary content").WithCause(err))
			return
		}
		content = decoded
	}
	w.Header().Set("Content-Type", record.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(content)
	}
}

// collectCustomHeaders picks the allow-listed custom headers off the
// request for persistence with the record.
func (b *Backend) collectCustomHeaders(r *http.Request) map[string]string {
	headers := map[string]string{}
	for _, header := range b.config.AllowedHeaders {
		if value := r.Header.Get(header); value != "" {
			headers[header] = value
		}
	}
	return headers
}

func (b *Backend) writeHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pod, ok := b.podContext(w, r)
	if !ok {
		return
	}
	userID := requestUserID(r)
	if userID == "" {
		core.WriteError(w, core.NewError(core.KindUnauthorized, "writing requires authentication"))
		return
	}
	if !b.checkRate(w, r, core.ActionWrite) {
		return
	}

	path := b.rewritePath(ctx, pod, r.URL.Path)
	streamPath, _, err := splitWritePath(path)
	if err != nil {
		core.WriteError(w, err)
		return
	}
	// creating missing streams counts against the stream creation limit
	if _, err := b.GetStreamByPath(ctx, pod, streamPath); err != nil {
		if core.AsError(err).Kind != core.KindStreamNotFound {
			core.WriteError(w, err)
			return
		}
		if !b.checkRate(w, r, core.ActionStreamCreate) {
			return
		}
	}

	stream, recordName, err := b.resolveWrite(ctx, pod, path, userID, r.URL.Query().Get("access"))
	if err != nil {
		core.WriteError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, b.config.maxRecordSize())
	content, err := io.ReadAll(r.Body)
	if err != nil {
		core.WriteError(w, core.NewError(core.KindInvalidInput, "content exceeds the maximum record size"))
		return
	}

	// X-Content-Type overrides the transport content type
	contentType := r.Header.Get("X-Content-Type")
	if contentType == "" {
		contentType = r.Header.Get("Content-Type")
	}

	record, err := b.Append(ctx, AppendRequest{
		Stream:      stream,
		Name:        recordName,
		Content:     content,
		ContentType: contentType,
		External:    r.URL.Query().Get("external") == "true" || r.Header.Get("X-Record-Type") == "file",
		Headers:     b.collectCustomHeaders(r),
		UserID:      userID,
	})
	if err != nil {
		core.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (b *Backend) deleteHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pod, ok := b.podContext(w, r)
	if !ok {
		return
	}
	userID := requestUserID(r)
	if userID == "" {
		core.WriteError(w, core.NewError(core.KindUnauthorized, "deletion requires authentication"))
		return
	}
	if !b.checkRate(w, r, core.ActionWrite) {
		return
	}

	path := strings.Trim(b.rewritePath(ctx, pod, r.URL.Path), "/")

	// deleting the root deletes the pod itself
	if path == "" {
		if err := b.DeletePod(ctx, pod, userID); err != nil {
			core.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// stream deletion destroys the whole subtree and therefore needs an
	// explicit flag; without it the last segment names a record
	if r.URL.Query().Get("stream") == "true" {
		stream, err := b.GetStreamByPath(ctx, pod, path)
		if err != nil {
			core.WriteError(w, err)
			return
		}
		if err := b.checkStreamOwnership(ctx, stream, userID); err != nil {
			core.WriteError(w, err)
			return
		}
		if err := b.DeleteStream(ctx, stream); err != nil {
			core.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	streamPath, recordName, err := splitWritePath(path)
	if err != nil {
		core.WriteError(w, err)
		return
	}
	stream, err := b.GetStreamByPath(ctx, pod, streamPath)
	if err != nil {
		core.WriteError(w, err)
		return
	}
	if err := b.CheckPermission(ctx, stream, userID, core.ActionWrite); err != nil {
		core.WriteError(w, err)
		return
	}

	if r.URL.Query().Get("purge") == "true" {
		err = b.Purge(ctx, stream, recordName, userID)
	} else {
		err = b.SoftDelete(ctx, stream, recordName, userID)
	}
	if err != nil {
		core.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// patchStreamHandler changes a stream's access permission. Only the pod
// owner or the stream creator may do that; `?access=` on writes never
// mutates existing streams.
func (b *Backend) patchStreamHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pod, ok := b.podContext(w, r)
	if !ok {
		return
	}
	userID := requestUserID(r)
	if userID == "" {
		core.WriteError(w, core.NewError(core.KindUnauthorized, "changing a stream requires authentication"))
		return
	}
	if !b.checkRate(w, r, core.ActionWrite) {
		return
	}

	path := strings.Trim(r.URL.Path, "/")
	stream, err := b.GetStreamByPath(ctx, pod, path)
	if err != nil {
		core.WriteError(w, err)
		return
	}
	if core.IsSystemStream(stream.Path) {
		core.WriteError(w, core.NewError(core.KindForbidden, "system stream "+stream.Path+" cannot be changed"))
		return
	}
	if err := b.checkStreamOwnership(ctx, stream, userID); err != nil {
		core.WriteError(w, err)
		return
	}

	var request struct {
		AccessPermission string `json:"access_permission"`
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil || json.Unmarshal(body, &request) != nil {
		core.WriteError(w, core.NewError(core.KindInvalidInput, "cannot parse request body"))
		return
	}
	if err := b.SetStreamPermission(ctx, stream, request.AccessPermission); err != nil {
		core.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stream)
}

// checkStreamOwnership restricts stream deletion and permission changes
// to the pod owner and the stream creator.
func (b *Backend) checkStreamOwnership(ctx context.Context, stream *Stream, userID string) error {
	if userID == stream.UserID {
		return nil
	}
	owner, err := b.PodOwner(ctx, stream.Pod)
	if err != nil {
		return err
	}
	if userID == owner {
		return nil
	}
	return core.NewError(core.KindForbidden, "only the pod owner or the stream creator may modify /"+stream.Path)
}
