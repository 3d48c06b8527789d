package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ChiefMcGill/Attendance-Tracker-for-Kids-Ministry/internal/audit"
	"github.com/ChiefMcGill/Attendance-Tracker-for-Kids-Ministry/internal/auth"
	"github.com/ChiefMcGill/Attendance-Tracker-for-Kids-Ministry/internal/checkin"
)

const (
	msgInvalidStation = "Invalid station ID"
	msgSessionGone    = "Session expired or not found. Please scan again."
	msgBadCredentials = "Invalid username or password"
	msgBadOTP         = "Invalid 2FA code"
	msgInternal       = "Internal server error"
)

type api struct {
	checkins *checkin.Service
	auth     *auth.Service
	events   audit.Publisher
}

func (a *api) registerRoutes(r *gin.Engine, signer *auth.Signer) {
	r.POST("/api/scan", a.scan)
	r.POST("/api/checkin", a.confirmCheckin)
	r.POST("/api/login", a.login)
	r.POST("/api/setup_2fa", a.setup2FA)
	r.GET("/api/session/:id", a.sessionInfo)
	r.GET("/api/programs", a.programs)

	protected := r.Group("/api", auth.RequireAuth(signer))
	protected.POST("/checkin-direct", a.directCheckin)
	protected.GET("/search-children", a.searchChildren)
	protected.POST("/register", a.register)

	admin := protected.Group("", auth.RequireAdmin())
	admin.POST("/volunteers", a.createVolunteer)
	admin.PATCH("/volunteers/:username", a.updateVolunteer)
	admin.DELETE("/volunteers/:username", a.removeVolunteer)
}

func (a *api) scan(c *gin.Context) {
	var req struct {
		QRValue   string `json:"qr_value" binding:"required"`
		StationID string `json:"station_id" binding:"required"`
		DeviceID  string `json:"device_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	res, err := a.checkins.StartScan(c.Request.Context(), req.QRValue, req.StationID, req.DeviceID)
	switch {
	case errors.Is(err, checkin.ErrInvalidStation):
		scansTotal.WithLabelValues("invalid_station").Inc()
		c.JSON(http.StatusOK, gin.H{"success": false, "message": msgInvalidStation})
	case errors.Is(err, checkin.ErrChildNotFound):
		scansTotal.WithLabelValues("not_found").Inc()
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "QR code not found. Please register this child."})
	case err != nil:
		scansTotal.WithLabelValues("error").Inc()
		internalError(c, "scan failed", err)
	default:
		scansTotal.WithLabelValues("ok").Inc()
		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"session_id": res.SessionID,
			"child_info": res.Child,
			"programs":   res.Programs,
			"expires_at": res.ExpiresAt.Unix(),
			"message":    fmt.Sprintf("Found %s", res.Child.FullName()),
		})
	}
}

func (a *api) confirmCheckin(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id" binding:"required"`
		StationID string `json:"station_id" binding:"required"`
		DeviceID  string `json:"device_id" binding:"required"`
		CreatedBy string `json:"created_by" binding:"required"`
		ProgramID *int64 `json:"program_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	conf, err := a.checkins.ConfirmScan(c.Request.Context(), req.SessionID, req.StationID, req.ProgramID, req.CreatedBy)
	switch {
	case errors.Is(err, checkin.ErrInvalidStation):
		confirmsTotal.WithLabelValues("invalid_station").Inc()
		c.JSON(http.StatusOK, gin.H{"success": false, "message": msgInvalidStation})
	case checkin.IsSessionRejection(err):
		confirmsTotal.WithLabelValues("session_rejected").Inc()
		c.JSON(http.StatusOK, gin.H{"success": false, "message": msgSessionGone})
	case err != nil:
		confirmsTotal.WithLabelValues("error").Inc()
		internalError(c, "checkin failed", err)
	default:
		confirmsTotal.WithLabelValues("ok").Inc()
		name := conf.Child.FullName()
		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"message":    fmt.Sprintf("%s checked in successfully!", name),
			"child_name": name,
		})
	}
}

func (a *api) directCheckin(c *gin.Context) {
	var req struct {
		ChildID   int64  `json:"child_id" binding:"required"`
		ProgramID *int64 `json:"program_id"`
		StationID string `json:"station_id" binding:"required"`
		DeviceID  string `json:"device_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	conf, err := a.checkins.DirectCheckin(c.Request.Context(), req.ChildID, req.ProgramID, req.StationID, c.GetString("username"))
	switch {
	case errors.Is(err, checkin.ErrInvalidStation):
		confirmsTotal.WithLabelValues("invalid_station").Inc()
		c.JSON(http.StatusOK, gin.H{"success": false, "message": msgInvalidStation})
	case errors.Is(err, checkin.ErrChildNotFound):
		confirmsTotal.WithLabelValues("not_found").Inc()
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "Child not found"})
	case err != nil:
		confirmsTotal.WithLabelValues("error").Inc()
		internalError(c, "direct checkin failed", err)
	default:
		confirmsTotal.WithLabelValues("ok").Inc()
		name := conf.Child.FullName()
		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"message":    fmt.Sprintf("%s checked in successfully!", name),
			"child_name": name,
		})
	}
}

func (a *api) login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
		OTP      string `json:"otp"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	res, err := a.auth.Login(c.Request.Context(), req.Username, req.Password, req.OTP)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		loginsTotal.WithLabelValues("bad_credentials").Inc()
		a.events.Publish(c.Request.Context(), audit.LevelWarning, "auth", "login rejected", "username: "+req.Username)
		c.JSON(http.StatusOK, gin.H{"success": false, "message": msgBadCredentials})
	case errors.Is(err, auth.ErrInvalidOTP):
		loginsTotal.WithLabelValues("bad_otp").Inc()
		a.events.Publish(c.Request.Context(), audit.LevelWarning, "auth", "invalid 2fa code", "username: "+req.Username)
		c.JSON(http.StatusOK, gin.H{"success": false, "message": msgBadOTP})
	case err != nil:
		loginsTotal.WithLabelValues("error").Inc()
		internalError(c, "login failed", err)
	case res.Requires2FA:
		loginsTotal.WithLabelValues("otp_required").Inc()
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "2FA required", "requires_2fa": true})
	case res.Setup2FA:
		loginsTotal.WithLabelValues("setup_required").Inc()
		a.events.Publish(c.Request.Context(), audit.LevelInfo, "auth", "2fa enrollment started", "username: "+req.Username)
		c.JSON(http.StatusOK, gin.H{
			"success":     false,
			"message":     "2FA setup required",
			"setup_2fa":   true,
			"totp_secret": res.TOTPSecret,
			"otpauth_url": res.OtpauthURL,
		})
	default:
		loginsTotal.WithLabelValues("ok").Inc()
		a.events.Publish(c.Request.Context(), audit.LevelInfo, "auth", "login successful", "username: "+req.Username)
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Login successful", "token": res.Token})
	}
}

func (a *api) setup2FA(c *gin.Context) {
	var req struct {
		Username   string `json:"username" binding:"required"`
		TOTPCode   string `json:"totp_code" binding:"required"`
		TOTPSecret string `json:"totp_secret" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	res, err := a.auth.CompleteEnrollment(c.Request.Context(), req.Username, req.TOTPSecret, req.TOTPCode)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusOK, gin.H{"success": false, "message": msgBadCredentials})
	case errors.Is(err, auth.ErrInvalidOTP):
		c.JSON(http.StatusOK, gin.H{"success": false, "message": msgBadOTP})
	case err != nil:
		internalError(c, "2fa setup failed", err)
	default:
		a.events.Publish(c.Request.Context(), audit.LevelInfo, "auth", "2fa enrollment completed", "username: "+req.Username)
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "2FA enabled", "token": res.Token})
	}
}

func (a *api) sessionInfo(c *gin.Context) {
	detail, err := a.checkins.SessionInfo(c.Request.Context(), c.Param("id"))
	switch {
	case checkin.IsSessionRejection(err):
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found or expired"})
	case err != nil:
		internalError(c, "session lookup failed", err)
	default:
		c.JSON(http.StatusOK, gin.H{
			"session_id": detail.SessionID,
			"child_info": detail.Child,
			"programs":   detail.Programs,
		})
	}
}

func (a *api) programs(c *gin.Context) {
	programs, err := a.checkins.Programs(c.Request.Context())
	if err != nil {
		internalError(c, "list programs failed", err)
		return
	}
	if programs == nil {
		programs = []checkin.Program{}
	}
	c.JSON(http.StatusOK, programs)
}

func (a *api) searchChildren(c *gin.Context) {
	results, err := a.checkins.SearchChildren(c.Request.Context(), c.Query("query"))
	if err != nil {
		internalError(c, "search failed", err)
		return
	}
	if results == nil {
		results = []checkin.ChildSummary{}
	}
	c.JSON(http.StatusOK, results)
}

func (a *api) register(c *gin.Context) {
	var req struct {
		Child struct {
			FirstName    string  `json:"first_name" binding:"required"`
			LastName     string  `json:"last_name" binding:"required"`
			BirthDate    string  `json:"birth_date" binding:"required"`
			Allergies    *string `json:"allergies"`
			Medications  *string `json:"medications"`
			SpecialNotes *string `json:"special_notes"`
			MedicalNotes *string `json:"medical_notes"`
		} `json:"child" binding:"required"`
		Family struct {
			FamilyName string `json:"family_name" binding:"required"`
		} `json:"family" binding:"required"`
		Parent struct {
			FirstName    string  `json:"first_name" binding:"required"`
			LastName     string  `json:"last_name" binding:"required"`
			Phone        string  `json:"phone" binding:"required"`
			Email        *string `json:"email"`
			Relationship string  `json:"relationship" binding:"required"`
		} `json:"parent" binding:"required"`
		ProgramID *int64 `json:"program_id"`
		StationID string `json:"station_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	if !validPhone(req.Parent.Phone) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Phone number must be exactly 10 digits"})
		return
	}
	if req.Parent.Email != nil && !validEmail(*req.Parent.Email) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid email address"})
		return
	}

	reg := checkin.Registration{
		FamilyName: req.Family.FamilyName,
		Parent: checkin.Parent{
			FirstName:    req.Parent.FirstName,
			LastName:     req.Parent.LastName,
			Phone:        req.Parent.Phone,
			Email:        req.Parent.Email,
			Relationship: req.Parent.Relationship,
		},
		Child: checkin.NewChild{
			FirstName:    req.Child.FirstName,
			LastName:     req.Child.LastName,
			BirthDate:    req.Child.BirthDate,
			Allergies:    req.Child.Allergies,
			Medications:  req.Child.Medications,
			SpecialNotes: req.Child.SpecialNotes,
			MedicalNotes: req.Child.MedicalNotes,
		},
	}

	childID, qrValue, err := a.checkins.RegisterChild(c.Request.Context(), reg, req.ProgramID, req.StationID, c.GetString("username"))
	switch {
	case errors.Is(err, checkin.ErrInvalidStation):
		c.JSON(http.StatusOK, gin.H{"success": false, "message": msgInvalidStation})
	case err != nil:
		internalError(c, "register failed", err)
	default:
		name := req.Child.FirstName + " " + req.Child.LastName
		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"message":  fmt.Sprintf("%s registered and checked in successfully!", name),
			"child_id": childID,
			"qr_value": qrValue,
		})
	}
}

func (a *api) createVolunteer(c *gin.Context) {
	var req struct {
		Username  string `json:"username" binding:"required"`
		Password  string `json:"password" binding:"required"`
		FirstName string `json:"first_name" binding:"required"`
		LastName  string `json:"last_name" binding:"required"`
		Role      string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	id, err := a.auth.CreateVolunteer(c.Request.Context(), req.Username, req.Password, req.FirstName, req.LastName, req.Role)
	switch {
	case errors.Is(err, auth.ErrUsernameTaken):
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": "Username already exists"})
	case err != nil:
		internalError(c, "create volunteer failed", err)
	default:
		a.events.Publish(c.Request.Context(), audit.LevelInfo, "admin", "volunteer created",
			fmt.Sprintf("username: %s, by: %s", req.Username, c.GetString("username")))
		c.JSON(http.StatusCreated, gin.H{"success": true, "id": id})
	}
}

func (a *api) updateVolunteer(c *gin.Context) {
	var req struct {
		FirstName *string `json:"first_name"`
		LastName  *string `json:"last_name"`
		Role      *string `json:"role"`
		Password  *string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	username := c.Param("username")
	if err := a.auth.UpdateVolunteer(c.Request.Context(), username, req.FirstName, req.LastName, req.Role, req.Password); err != nil {
		internalError(c, "update volunteer failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *api) removeVolunteer(c *gin.Context) {
	username := c.Param("username")
	if err := a.auth.RemoveVolunteer(c.Request.Context(), username); err != nil {
		internalError(c, "remove volunteer failed", err)
		return
	}
	a.events.Publish(c.Request.Context(), audit.LevelInfo, "admin", "volunteer removed",
		fmt.Sprintf("username: %s, by: %s", username, c.GetString("username")))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// internalError logs the cause and returns a generic 500 body.
func internalError(c *gin.Context, msg string, err error) {
	log.Printf("%s: %v", msg, err)
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": msgInternal})
}

func validPhone(phone string) bool {
	if len(phone) != 10 {
		return false
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func validEmail(email string) bool {
	return strings.Contains(email, "@") && strings.Contains(email, ".")
}
