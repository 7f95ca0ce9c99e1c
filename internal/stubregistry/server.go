package stubregistry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"titipanq-admin/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"

	defaultPerPage = 10
	maxUpload      = 8 << 20
)

// Options stub server 配置
type Options struct {
	Secret    string
	AccessTTL time.Duration
}

// RecordedRequest 测试断言用的请求记录
type RecordedRequest struct {
	Method    string
	Path      string
	RequestID string
	Form      map[string][]string
	FileNames map[string]string
}

type failure struct {
	status  int
	message string
}

type refreshEntry struct {
	userID string
	role   string
}

// Server 与 TitipanQ registry 对齐的 HTTP 接口（/api/v1 前缀）
type Server struct {
	reg    *Registry
	logger *zap.Logger
	router *mux.Router

	secret    []byte
	accessTTL time.Duration

	mu        sync.Mutex
	gen       int
	refresh   map[string]refreshEntry
	failNext  map[string]failure
	requests  []RecordedRequest
	refreshes int
}

// NewServer 创建 stub server
func NewServer(reg *Registry, logger *zap.Logger, opts Options) *Server {
	if opts.Secret == "" {
		opts.Secret = "titipanq-stub-secret"
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	s := &Server{
		reg:       reg,
		logger:    logger,
		router:    mux.NewRouter(),
		secret:    []byte(opts.Secret),
		accessTTL: opts.AccessTTL,
		refresh:   map[string]refreshEntry{},
		failNext:  map[string]failure{},
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.record)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/login", s.login(RoleAdmin)).Methods(http.MethodPost)
	admin.HandleFunc("/refresh-token", s.refreshToken(RoleAdmin)).Methods(http.MethodPost)

	a := admin.NewRoute().Subrouter()
	a.Use(s.authenticate(RoleAdmin))
	// packages
	a.HandleFunc("/get-all-package", s.listPackages).Methods(http.MethodGet)
	a.HandleFunc("/get-detail-package/{id}", s.getPackage).Methods(http.MethodGet)
	a.HandleFunc("/get-all-package-history/{id}", s.packageHistory).Methods(http.MethodGet)
	a.HandleFunc("/create-package", s.createPackage).Methods(http.MethodPost)
	a.HandleFunc("/update-package/{id}", s.updatePackage).Methods(http.MethodPatch)
	a.HandleFunc("/delete-package/{id}", s.deletePackage).Methods(http.MethodDelete)
	a.HandleFunc("/update-status-packages", s.updateStatusPackages).Methods(http.MethodPatch)
	a.HandleFunc("/trigger-expire-packages", s.triggerExpire).Methods(http.MethodPost)
	// companies
	a.HandleFunc("/get-all-company", s.listCompanies).Methods(http.MethodGet)
	a.HandleFunc("/get-detail-company/{id}", s.getCompany).Methods(http.MethodGet)
	a.HandleFunc("/create-company", s.createCompany).Methods(http.MethodPost)
	a.HandleFunc("/update-company/{id}", s.updateCompany).Methods(http.MethodPatch)
	a.HandleFunc("/delete-company/{id}", s.deleteEntity("company")).Methods(http.MethodDelete)
	// lockers
	a.HandleFunc("/get-all-locker", s.listLockers).Methods(http.MethodGet)
	a.HandleFunc("/get-detail-locker/{id}", s.getLocker).Methods(http.MethodGet)
	a.HandleFunc("/create-locker", s.createLocker).Methods(http.MethodPost)
	a.HandleFunc("/update-locker/{id}", s.updateLocker).Methods(http.MethodPatch)
	a.HandleFunc("/delete-locker/{id}", s.deleteEntity("locker")).Methods(http.MethodDelete)
	// recipients（路径与线上 registry 一致，包括 get-detil / deleted 拼写）
	a.HandleFunc("/get-all-recipients", s.listRecipients).Methods(http.MethodGet)
	a.HandleFunc("/get-detil-recipient/{id}", s.getRecipient).Methods(http.MethodGet)
	a.HandleFunc("/create-recipient", s.createRecipient).Methods(http.MethodPost)
	a.HandleFunc("/update-recipient/{id}", s.updateRecipient).Methods(http.MethodPatch)
	a.HandleFunc("/deleted-recipient/{id}", s.deleteEntity("recipient")).Methods(http.MethodDelete)
	// senders
	a.HandleFunc("/sender", s.listSenders).Methods(http.MethodGet)
	a.HandleFunc("/sender/{id}", s.getSender).Methods(http.MethodGet)
	a.HandleFunc("/create-sender", s.createSender).Methods(http.MethodPost)
	a.HandleFunc("/update-sender/{id}", s.updateSender).Methods(http.MethodPatch)
	a.HandleFunc("/deleted-sender/{id}", s.deleteEntity("sender")).Methods(http.MethodDelete)
	// users
	a.HandleFunc("/get-all-user", s.listUsers).Methods(http.MethodGet)
	a.HandleFunc("/get-detail-user/{id}", s.getUser).Methods(http.MethodGet)
	a.HandleFunc("/create-user", s.createUser).Methods(http.MethodPost)
	a.HandleFunc("/update-user/{id}", s.updateUser).Methods(http.MethodPatch)
	a.HandleFunc("/delete-user/{id}", s.deleteUser).Methods(http.MethodDelete)

	user := api.PathPrefix("/user").Subrouter()
	user.HandleFunc("/login", s.login(RoleUser)).Methods(http.MethodPost)
	user.HandleFunc("/refresh-token", s.refreshToken(RoleUser)).Methods(http.MethodPost)
	user.HandleFunc("/register", s.register).Methods(http.MethodPost)
	user.HandleFunc("/get-all-company", s.listCompanies).Methods(http.MethodGet)

	u := user.NewRoute().Subrouter()
	u.Use(s.authenticate(RoleUser))
	u.HandleFunc("/get-all-package", s.listMyPackages).Methods(http.MethodGet)
	u.HandleFunc("/get-all-package-history/{id}", s.myPackageHistory).Methods(http.MethodGet)
	u.HandleFunc("/get-detail-user", s.profile).Methods(http.MethodGet)
	u.HandleFunc("/update-user", s.updateProfile).Methods(http.MethodPatch)
}

// ---- 测试辅助 ----

// IssueTokens 直接签发 token 对（跳过 login）
func (s *Server) IssueTokens(userID, role string) (models.Tokens, error) {
	access, err := s.signAccess(userID, role)
	if err != nil {
		return models.Tokens{}, err
	}
	refresh := uuid.NewString()
	s.mu.Lock()
	s.refresh[refresh] = refreshEntry{userID: userID, role: role}
	s.mu.Unlock()
	return models.Tokens{AccessToken: access, RefreshToken: refresh}, nil
}

// RevokeAccessTokens 让已签发的 access token 全部失效（refresh token 仍有效）
func (s *Server) RevokeAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
}

// RevokeRefreshTokens 让所有 refresh token 失效
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = map[string]refreshEntry{}
}

// FailNext 下一次 method+path（不含 /api/v1 前缀）返回指定错误
func (s *Server) FailNext(method, path string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[method+" "+path] = failure{status: status, message: message}
}

// Requests 已收到的请求（按顺序）
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// CountRequests 统计 method+path 的请求次数
func (s *Server) CountRequests(method, path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// RefreshCount 成功的 refresh 次数
func (s *Server) RefreshCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}

// ---- middleware ----

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/v1")
		rec := RecordedRequest{
			Method:    r.Method,
			Path:      path,
			RequestID: r.Header.Get("X-Request-ID"),
		}
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			if err := r.ParseMultipartForm(maxUpload); err == nil {
				rec.Form = r.MultipartForm.Value
				rec.FileNames = map[string]string{}
				for field, files := range r.MultipartForm.File {
					if len(files) > 0 {
						rec.FileNames[field] = files[0].Filename
					}
				}
			}
		}

		s.mu.Lock()
		s.requests = append(s.requests, rec)
		f, fail := s.failNext[r.Method+" "+path]
		if fail {
			delete(s.failNext, r.Method+" "+path)
		}
		s.mu.Unlock()

		if fail {
			writeFail(w, f.status, f.message, errors.New(f.message))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type ctxKey struct{}

type principal struct {
	userID string
	role   string
}

func (s *Server) authenticate(role string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if raw == "" {
				writeFail(w, http.StatusUnauthorized, "failed token not found", errors.New("missing bearer token"))
				return
			}
			p, err := s.parseAccess(raw)
			if err != nil {
				writeFail(w, http.StatusUnauthorized, "failed token expired or invalid", err)
				return
			}
			if p.role != role {
				writeFail(w, http.StatusForbidden, "failed access denied", fmt.Errorf("role %s cannot access %s routes", p.role, role))
				return
			}
			next.ServeHTTP(w, r.WithContext(withPrincipal(r, p)))
		})
	}
}

func (s *Server) signAccess(userID, role string) (string, error) {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"gen":     gen,
		"exp":     time.Now().Add(s.accessTTL).Unix(),
		"iat":     time.Now().Unix(),
		"jti":     uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Server) parseAccess(raw string) (principal, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return principal{}, err
	}
	gen, _ := claims["gen"].(float64)
	s.mu.Lock()
	current := s.gen
	s.mu.Unlock()
	if int(gen) != current {
		return principal{}, errors.New("token revoked")
	}
	userID, _ := claims["user_id"].(string)
	role, _ := claims["role"].(string)
	return principal{userID: userID, role: role}, nil
}

// ---- auth handlers ----

func (s *Server) login(role string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"user_email"`
			Password string `json:"user_password"`
		}
		if err := readJSON(r, &req); err != nil {
			writeFail(w, http.StatusBadRequest, "failed get data from body", err)
			return
		}
		u, ok := s.reg.Authenticate(req.Email, req.Password)
		if !ok {
			writeFail(w, http.StatusBadRequest, "failed login", errors.New("email or password is wrong"))
			return
		}
		if userRole(u) != role {
			writeFail(w, http.StatusForbidden, "failed login", fmt.Errorf("account is not %s", role))
			return
		}
		tokens, err := s.IssueTokens(u.ID, role)
		if err != nil {
			writeFail(w, http.StatusInternalServerError, "failed login", err)
			return
		}
		writeOK(w, http.StatusOK, "success login", tokens, nil)
	}
}

func (s *Server) refreshToken(role string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := readJSON(r, &req); err != nil || req.RefreshToken == "" {
			writeFail(w, http.StatusBadRequest, "failed get data from body", errors.New("refresh_token is required"))
			return
		}
		s.mu.Lock()
		entry, ok := s.refresh[req.RefreshToken]
		s.mu.Unlock()
		if !ok || entry.role != role {
			writeFail(w, http.StatusUnauthorized, "failed refresh token", errors.New("refresh token invalid"))
			return
		}
		access, err := s.signAccess(entry.userID, entry.role)
		if err != nil {
			writeFail(w, http.StatusInternalServerError, "failed refresh token", err)
			return
		}
		s.mu.Lock()
		s.refreshes++
		s.mu.Unlock()
		writeOK(w, http.StatusOK, "success refresh token", models.RefreshedToken{AccessToken: access}, nil)
	}
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string `json:"user_name"`
		Email     string `json:"user_email"`
		Password  string `json:"user_password"`
		Phone     string `json:"user_phone_number"`
		Address   string `json:"user_address"`
		CompanyID string `json:"company_id"`
	}
	if err := readJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "failed get data from body", err)
		return
	}
	if req.Email == "" || req.Password == "" {
		writeFail(w, http.StatusBadRequest, "failed register", errors.New("email and password are required"))
		return
	}
	if s.reg.EmailTaken(req.Email) {
		writeFail(w, http.StatusBadRequest, "failed register", errors.New("email already exists"))
		return
	}
	u := s.reg.AddUser(models.User{
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Address: req.Address,
		Company: models.Company{ID: req.CompanyID},
		Role:    models.Role{Name: RoleUser},
	}, req.Password)
	writeOK(w, http.StatusCreated, "success register", u, nil)
}

// ---- package handlers ----

func (s *Server) listPackages(w http.ResponseWriter, r *http.Request) {
	items, meta := paginate(r, s.reg.Packages(""))
	writeOK(w, http.StatusOK, "success get all package", items, meta)
}

func (s *Server) listMyPackages(w http.ResponseWriter, r *http.Request) {
	items, meta := paginate(r, s.reg.Packages(principalFrom(r).userID))
	writeOK(w, http.StatusOK, "success get all package", items, meta)
}

func (s *Server) getPackage(w http.ResponseWriter, r *http.Request) {
	p, err := s.reg.Package(mux.Vars(r)["id"])
	if err != nil {
		writeFail(w, http.StatusNotFound, "failed get detail package", err)
		return
	}
	writeOK(w, http.StatusOK, "success get detail package", p, nil)
}

func (s *Server) packageHistory(w http.ResponseWriter, r *http.Request) {
	h, err := s.reg.History(mux.Vars(r)["id"])
	if err != nil {
		writeFail(w, http.StatusNotFound, "failed get all package history", err)
		return
	}
	writeOK(w, http.StatusOK, "success get all package history", h, nil)
}

func (s *Server) myPackageHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, err := s.reg.Package(id)
	if err != nil || p.User.ID != principalFrom(r).userID {
		writeFail(w, http.StatusNotFound, "failed get all package history", fmt.Errorf("package %s: %w", id, ErrNotFound))
		return
	}
	s.packageHistory(w, r)
}

func (s *Server) packageInput(r *http.Request) (PackageInput, error) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		return PackageInput{}, err
	}
	in := PackageInput{
		Description:  r.FormValue("package_description"),
		TrackingCode: r.FormValue("package_tracking_code"),
		Type:         models.PackageType(r.FormValue("package_type")),
		UserID:       r.FormValue("user_id"),
		LockerID:     r.FormValue("locker_id"),
		SenderID:     r.FormValue("sender_id"),
	}
	if q := r.FormValue("package_quantity"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil {
			return in, fmt.Errorf("package_quantity: %w", err)
		}
		in.Quantity = n
	}
	if _, fh, err := r.FormFile("package_image"); err == nil {
		in.Image = "package/" + uuid.NewString()[:8] + "_" + fh.Filename
	}
	return in, nil
}

func (s *Server) createPackage(w http.ResponseWriter, r *http.Request) {
	in, err := s.packageInput(r)
	if err != nil {
		writeFail(w, http.StatusBadRequest, "failed get data from body", err)
		return
	}
	p, err := s.reg.CreatePackage(in, principalFrom(r).userID)
	if err != nil {
		writeFail(w, statusFor(err), "failed create package", err)
		return
	}
	writeOK(w, http.StatusCreated, "success create package", p, nil)
}

func (s *Server) updatePackage(w http.ResponseWriter, r *http.Request) {
	in, err := s.packageInput(r)
	if err != nil {
		writeFail(w, http.StatusBadRequest, "failed get data from body", err)
		return
	}
	p, err := s.reg.UpdatePackage(mux.Vars(r)["id"], in)
	if err != nil {
		writeFail(w, statusFor(err), "failed update package", err)
		return
	}
	writeOK(w, http.StatusOK, "success update package", p, nil)
}

func (s *Server) deletePackage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, err := s.reg.Package(id)
	if err == nil {
		err = s.reg.DeletePackage(id)
	}
	if err != nil {
		writeFail(w, statusFor(err), "failed delete package", err)
		return
	}
	writeOK(w, http.StatusOK, "success delete package", p, nil)
}

// updateStatusPackages 批量取件：multipart，重复的 package_ids + recipient_id + 可选 proof_image
func (s *Server) updateStatusPackages(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		writeFail(w, http.StatusBadRequest, "failed get data from body", err)
		return
	}
	ids := r.MultipartForm.Value["package_ids"]
	recipientID := r.FormValue("recipient_id")
	if len(ids) == 0 || recipientID == "" {
		writeFail(w, http.StatusBadRequest, "failed update status packages", errors.New("package_ids and recipient_id are required"))
		return
	}
	var proof string
	if f, fh, err := r.FormFile("proof_image"); err == nil {
		_ = f.Close()
		proof = "proof/" + uuid.NewString()[:8] + "_" + fh.Filename
	}

	updated, err := s.reg.CompletePackages(ids, recipientID, proof, principalFrom(r).userID)
	if err != nil {
		writeFail(w, statusFor(err), "failed update status packages", err)
		return
	}
	s.logger.Info("Packages completed",
		zap.Strings("package_ids", ids),
		zap.String("recipient_id", recipientID),
		zap.Bool("has_proof", proof != ""),
	)
	writeOK(w, http.StatusOK, "success update status packages", updated, nil)
}

func (s *Server) triggerExpire(w http.ResponseWriter, r *http.Request) {
	n := s.reg.ExpirePackages(principalFrom(r).userID)
	writeOK(w, http.StatusOK, "success trigger expire packages", map[string]int{"expired": n}, nil)
}

// ---- company / locker / recipient / sender / user handlers ----

func (s *Server) listCompanies(w http.ResponseWriter, r *http.Request) {
	items, meta := paginate(r, s.reg.Companies())
	writeOK(w, http.StatusOK, "success get all company", items, meta)
}

func (s *Server) getCompany(w http.ResponseWriter, r *http.Request) {
	c, err := s.reg.Company(mux.Vars(r)["id"])
	respond(w, c, err, "get detail company")
}

func (s *Server) createCompany(w http.ResponseWriter, r *http.Request) {
	var c models.Company
	if err := readJSON(r, &c); err != nil || c.Name == "" {
		writeFail(w, http.StatusBadRequest, "failed create company", errors.New("company_name is required"))
		return
	}
	c.ID = ""
	writeOK(w, http.StatusCreated, "success create company", s.reg.AddCompany(c), nil)
}

func (s *Server) updateCompany(w http.ResponseWriter, r *http.Request) {
	var c models.Company
	if err := readJSON(r, &c); err != nil {
		writeFail(w, http.StatusBadRequest, "failed get data from body", err)
		return
	}
	c.ID = mux.Vars(r)["id"]
	out, err := s.reg.PutCompany(c)
	respond(w, out, err, "update company")
}

func (s *Server) listLockers(w http.ResponseWriter, r *http.Request) {
	items, meta := paginate(r, s.reg.Lockers())
	writeOK(w, http.StatusOK, "success get all locker", items, meta)
}

func (s *Server) getLocker(w http.ResponseWriter, r *http.Request) {
	l, err := s.reg.Locker(mux.Vars(r)["id"])
	respond(w, l, err, "get detail locker")
}

func (s *Server) createLocker(w http.ResponseWriter, r *http.Request) {
	var l models.Locker
	if err := readJSON(r, &l); err != nil || l.Code == "" {
		writeFail(w, http.StatusBadRequest, "failed create locker", errors.New("locker_code is required"))
		return
	}
	l.ID = ""
	writeOK(w, http.StatusCreated, "success create locker", s.reg.AddLocker(l), nil)
}

func (s *Server) updateLocker(w http.ResponseWriter, r *http.Request) {
	var l models.Locker
	if err := readJSON(r, &l); err != nil {
		writeFail(w, http.StatusBadRequest, "failed get data from body", err)
		return
	}
	l.ID = mux.Vars(r)["id"]
	out, err := s.reg.PutLocker(l)
	respond(w, out, err, "update locker")
}

func (s *Server) listRecipients(w http.ResponseWriter, r *http.Request) {
	items, meta := paginate(r, s.reg.Recipients())
	writeOK(w, http.StatusOK, "success get all recipient", items, meta)
}

func (s *Server) getRecipient(w http.ResponseWriter, r *http.Request) {
	rc, err := s.reg.Recipient(mux.Vars(r)["id"])
	respond(w, rc, err, "get detail recipient")
}

func (s *Server) createRecipient(w http.ResponseWriter, r *http.Request) {
	var rc models.Recipient
	if err := readJSON(r, &rc); err != nil || rc.Name == "" {
		writeFail(w, http.StatusBadRequest, "failed create recipient", errors.New("recipient_name is required"))
		return
	}
	rc.ID = ""
	writeOK(w, http.StatusCreated, "success create recipient", s.reg.AddRecipient(rc), nil)
}

func (s *Server) updateRecipient(w http.ResponseWriter, r *http.Request) {
	var rc models.Recipient
	if err := readJSON(r, &rc); err != nil {
		writeFail(w, http.StatusBadRequest, "failed get data from body", err)
		return
	}
	rc.ID = mux.Vars(r)["id"]
	out, err := s.reg.PutRecipient(rc)
	respond(w, out, err, "update recipient")
}

func (s *Server) listSenders(w http.ResponseWriter, r *http.Request) {
	items, meta := paginate(r, s.reg.Senders())
	writeOK(w, http.StatusOK, "success get all sender", items, meta)
}

func (s *Server) getSender(w http.ResponseWriter, r *http.Request) {
	sd, err := s.reg.Sender(mux.Vars(r)["id"])
	respond(w, sd, err, "get detail sender")
}

func (s *Server) createSender(w http.ResponseWriter, r *http.Request) {
	var sd models.Sender
	if err := readJSON(r, &sd); err != nil || sd.Name == "" {
		writeFail(w, http.StatusBadRequest, "failed create sender", errors.New("sender_name is required"))
		return
	}
	sd.ID = ""
	writeOK(w, http.StatusCreated, "success create sender", s.reg.AddSender(sd), nil)
}

func (s *Server) updateSender(w http.ResponseWriter, r *http.Request) {
	var sd models.Sender
	if err := readJSON(r, &sd); err != nil {
		writeFail(w, http.StatusBadRequest, "failed get data from body", err)
		return
	}
	sd.ID = mux.Vars(r)["id"]
	out, err := s.reg.PutSender(sd)
	respond(w, out, err, "update sender")
}

func (s *Server) deleteEntity(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := s.reg.DeleteEntity(kind, id); err != nil {
			writeFail(w, statusFor(err), "failed delete "+kind, err)
			return
		}
		writeOK(w, http.StatusOK, "success delete "+kind, map[string]string{kind + "_id": id}, nil)
	}
}

// userBody create-user / update-user 的请求体
type userBody struct {
	Name      string `json:"user_name"`
	Email     string `json:"user_email"`
	Password  string `json:"user_password"`
	Phone     string `json:"user_phone_number"`
	Address   string `json:"user_address"`
	CompanyID string `json:"company_id"`
}

func (b userBody) user() models.User {
	return models.User{
		Name:    b.Name,
		Email:   b.Email,
		Phone:   b.Phone,
		Address: b.Address,
		Company: models.Company{ID: b.CompanyID},
	}
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	items, meta := paginate(r, s.reg.Users())
	writeOK(w, http.StatusOK, "success get all user", items, meta)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.reg.User(mux.Vars(r)["id"])
	respond(w, u, err, "get detail user")
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var b userBody
	if err := readJSON(r, &b); err != nil || b.Email == "" {
		writeFail(w, http.StatusBadRequest, "failed create user", errors.New("user_email is required"))
		return
	}
	u := b.user()
	u.Role = models.Role{Name: RoleUser}
	writeOK(w, http.StatusCreated, "success create user", s.reg.AddUser(u, b.Password), nil)
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	var b userBody
	if err := readJSON(r, &b); err != nil {
		writeFail(w, http.StatusBadRequest, "failed get data from body", err)
		return
	}
	u, err := s.reg.UpdateUser(mux.Vars(r)["id"], b.user())
	respond(w, u, err, "update user")
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	u, err := s.reg.User(id)
	if err == nil {
		err = s.reg.DeleteUser(id)
	}
	respond(w, u, err, "delete user")
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	u, err := s.reg.User(principalFrom(r).userID)
	respond(w, u, err, "get detail user")
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	var b userBody
	if err := readJSON(r, &b); err != nil {
		writeFail(w, http.StatusBadRequest, "failed get data from body", err)
		return
	}
	u, err := s.reg.UpdateUser(principalFrom(r).userID, b.user())
	respond(w, u, err, "update user")
}

// ---- helpers ----

func userRole(u models.User) string {
	if u.Role.Name == RoleAdmin {
		return RoleAdmin
	}
	return RoleUser
}

func withPrincipal(r *http.Request, p principal) context.Context {
	return context.WithValue(r.Context(), ctxKey{}, p)
}

func principalFrom(r *http.Request) principal {
	if p, ok := r.Context().Value(ctxKey{}).(principal); ok {
		return p
	}
	return principal{}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func respond[T any](w http.ResponseWriter, v T, err error, action string) {
	if err != nil {
		writeFail(w, statusFor(err), "failed "+action, err)
		return
	}
	writeOK(w, http.StatusOK, "success "+action, v, nil)
}

// paginate ?pagination=false 返回全部；否则 ?page=N&per_page=M
func paginate[T any](r *http.Request, all []T) ([]T, *models.Meta) {
	q := r.URL.Query()
	if q.Get("pagination") == "false" {
		return all, nil
	}
	page := parseInt(q.Get("page"), 1)
	perPage := parseInt(q.Get("per_page"), defaultPerPage)
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	count := len(all)
	maxPage := int(math.Ceil(float64(count) / float64(perPage)))
	if maxPage == 0 {
		maxPage = 1
	}
	start := (page - 1) * perPage
	if start > count {
		start = count
	}
	end := start + perPage
	if end > count {
		end = count
	}
	return all[start:end], &models.Meta{Page: page, PerPage: perPage, MaxPage: maxPage, Count: count}
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func readJSON(r *http.Request, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, status int, message string, data any, meta *models.Meta) {
	writeJSON(w, status, models.Envelope[any]{
		Status:    true,
		Message:   message,
		Timestamp: time.Now().Format(time.RFC3339),
		Data:      data,
		Meta:      meta,
	})
}

func writeFail(w http.ResponseWriter, status int, message string, err error) {
	detail, _ := json.Marshal(err.Error())
	writeJSON(w, status, models.Envelope[any]{
		Status:    false,
		Message:   message,
		Timestamp: time.Now().Format(time.RFC3339),
		Error:     detail,
	})
}
