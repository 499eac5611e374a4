package workpool

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func RegisterRoutes(rg *gin.RouterGroup, db *gorm.DB) {
	store := NewStore(db)

	pools := rg.Group("/workerpools")
	pools.POST("/pools", createWorkPool(store))
	pools.GET("/pools", listWorkPools(store))
	pools.GET("/pools/:id", getWorkPool(store))
	pools.PUT("/pools/:id", updateWorkPool(store))
	pools.DELETE("/pools/:id", deleteWorkPool(store))

	pools.POST("/workers", registerWorker(store))
	pools.GET("/workers", listWorkers(store))
	pools.GET("/workers/:id", getWorker(store))
	pools.DELETE("/workers/:id", deleteWorker(store))
	pools.PUT("/workers/:id/heartbeat", workerHeartbeat(store))
	pools.POST("/workers/:id/claim-session", claimSession(store))
}

// CreateWorkPool creates a new work pool
// @Summary Create a work pool
// @Description Create a new work pool; the name must be unique
// @Tags workpools
// @Accept json
// @Produce json
// @Param pool body WorkPool true "Work pool configuration"
// @Success 201 {object} WorkPool
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/workerpools/pools [post]
func createWorkPool(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var pool WorkPool
		if err := c.ShouldBindJSON(&pool); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if pool.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}

		if err := store.CreateWorkPool(c.Request.Context(), &pool); err != nil {
			if errors.Is(err, ErrPoolNameTaken) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, pool)
	}
}

// ListWorkPools lists work pools
// @Summary List work pools
// @Description Get work pools with optional filtering by status and provider type
// @Tags workpools
// @Accept json
// @Produce json
// @Param status query PoolStatus false "Filter by pool status" Enums(active,paused,error,maintenance)
// @Param provider_type query ProviderType false "Filter by provider type"
// @Param offset query int false "Pagination offset" default(0)
// @Param limit query int false "Pagination limit" default(100)
// @Success 200 {object} WorkPoolListResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/workerpools/pools [get]
func listWorkPools(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			status       *PoolStatus
			providerType *ProviderType
		)
		if v := c.Query("status"); v != "" {
			s := PoolStatus(v)
			if !s.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
				return
			}
			status = &s
		}
		if v := c.Query("provider_type"); v != "" {
			p := ProviderType(v)
			if !p.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid provider_type"})
				return
			}
			providerType = &p
		}
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

		pools, err := store.ListWorkPools(c.Request.Context(), status, providerType, offset, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"pools": pools, "total": len(pools)})
	}
}

// GetWorkPool retrieves a work pool
// @Summary Get a work pool
// @Description Get a work pool by ID
// @Tags workpools
// @Accept json
// @Produce json
// @Param id path string true "Work pool ID (UUID)"
// @Success 200 {object} WorkPool
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/workerpools/pools/{id} [get]
func getWorkPool(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pool ID"})
			return
		}
		pool, err := store.GetWorkPool(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "work pool not found"})
			return
		}
		c.JSON(http.StatusOK, pool)
	}
}

// UpdateWorkPool updates mutable work pool fields
// @Summary Update a work pool
// @Description Update status, defaults or capacity settings of a work pool
// @Tags workpools
// @Accept json
// @Produce json
// @Param id path string true "Work pool ID (UUID)"
// @Param updates body object true "Fields to update"
// @Success 200 {object} WorkPool
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/workerpools/pools/{id} [put]
func updateWorkPool(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pool ID"})
			return
		}

		var updates map[string]interface{}
		if err := c.ShouldBindJSON(&updates); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		allowed := map[string]bool{
			"description": true, "status": true,
			"min_workers": true, "max_workers": true, "max_sessions_per_worker": true,
			"default_browser": true, "default_browser_version": true,
			"default_headless": true, "default_operating_system": true,
			"provider_config": true,
		}
		filtered := map[string]interface{}{}
		for k, v := range updates {
			if allowed[k] {
				filtered[k] = v
			}
		}
		if len(filtered) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no updatable fields"})
			return
		}
		if v, ok := filtered["status"]; ok {
			if s, ok := v.(string); !ok || !PoolStatus(s).Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
				return
			}
		}

		if _, err := store.GetWorkPool(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "work pool not found"})
			return
		}
		if err := store.UpdateWorkPool(c.Request.Context(), id, filtered); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		pool, err := store.GetWorkPool(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, pool)
	}
}

// DeleteWorkPool deletes a work pool
// @Summary Delete a work pool
// @Description Delete a work pool; refused while active sessions reference it unless force is set
// @Tags workpools
// @Accept json
// @Produce json
// @Param id path string true "Work pool ID (UUID)"
// @Param force query bool false "Delete even with active sessions"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/workerpools/pools/{id} [delete]
func deleteWorkPool(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pool ID"})
			return
		}
		force := c.Query("force") == "true"

		if _, err := store.GetWorkPool(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "work pool not found"})
			return
		}

		if err := store.DeleteWorkPool(c.Request.Context(), id, force); err != nil {
			if errors.Is(err, ErrPoolHasSessions) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// RegisterWorker registers a new worker
// @Summary Register a worker
// @Description Register a worker in a pool; generates an API key when absent
// @Tags workers
// @Accept json
// @Produce json
// @Param worker body Worker true "Worker configuration"
// @Success 201 {object} Worker
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/workerpools/workers [post]
func registerWorker(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var worker Worker
		if err := c.ShouldBindJSON(&worker); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if worker.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}
		if worker.WorkPoolID == uuid.Nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "work_pool_id is required"})
			return
		}
		if _, err := store.GetWorkPool(c.Request.Context(), worker.WorkPoolID); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "work pool not found"})
			return
		}

		if err := store.RegisterWorker(c.Request.Context(), &worker); err != nil {
			if errors.Is(err, ErrWorkerNameTaken) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, worker)
	}
}

// ListWorkers lists workers
// @Summary List workers
// @Description Get workers with optional filtering by pool, name and status
// @Tags workers
// @Accept json
// @Produce json
// @Param work_pool_id query string false "Filter by work pool ID"
// @Param name query string false "Look up a single worker by name within the pool"
// @Param status query WorkerStatus false "Filter by worker status"
// @Param offset query int false "Pagination offset" default(0)
// @Param limit query int false "Pagination limit" default(100)
// @Success 200 {object} WorkerListResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/workerpools/workers [get]
func listWorkers(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			poolID *uuid.UUID
			status *WorkerStatus
		)
		if v := c.Query("work_pool_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid work_pool_id"})
				return
			}
			poolID = &id
		}
		if v := c.Query("status"); v != "" {
			s := WorkerStatus(v)
			if !s.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
				return
			}
			status = &s
		}

		if name := c.Query("name"); name != "" && poolID != nil {
			worker, err := store.FindWorkerByName(c.Request.Context(), *poolID, name)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					c.JSON(http.StatusOK, gin.H{"workers": []Worker{}, "total": 0})
					return
				}
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"workers": []Worker{*worker}, "total": 1})
			return
		}

		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

		workers, err := store.ListWorkers(c.Request.Context(), poolID, status, offset, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"workers": workers, "total": len(workers)})
	}
}

// GetWorker retrieves a worker
// @Summary Get a worker
// @Description Get a worker by ID
// @Tags workers
// @Accept json
// @Produce json
// @Param id path string true "Worker ID (UUID)"
// @Success 200 {object} Worker
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/workerpools/workers/{id} [get]
func getWorker(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid worker ID"})
			return
		}
		worker, err := store.GetWorker(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "worker not found"})
			return
		}
		c.JSON(http.StatusOK, worker)
	}
}

// DeleteWorker deletes a worker
// @Summary Delete a worker
// @Description Delete a worker; refused while it carries load unless force is set
// @Tags workers
// @Accept json
// @Produce json
// @Param id path string true "Worker ID (UUID)"
// @Param force query bool false "Delete even with active load"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/workerpools/workers/{id} [delete]
func deleteWorker(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid worker ID"})
			return
		}
		force := c.Query("force") == "true"

		if err := store.DeleteWorker(c.Request.Context(), id, force); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "worker not found"})
				return
			}
			if errors.Is(err, ErrWorkerHasLoad) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// WorkerHeartbeat ingests a worker heartbeat
// @Summary Send a worker heartbeat
// @Description Update worker status, load and host telemetry; refreshes last_heartbeat
// @Tags workers
// @Accept json
// @Produce json
// @Param id path string true "Worker ID (UUID)"
// @Param heartbeat body WorkerHeartbeat true "Heartbeat payload"
// @Success 200 {object} Worker
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/workerpools/workers/{id}/heartbeat [put]
func workerHeartbeat(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid worker ID"})
			return
		}

		var hb WorkerHeartbeat
		if err := c.ShouldBindJSON(&hb); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		worker, err := store.Heartbeat(c.Request.Context(), id, &hb)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "worker not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, worker)
	}
}

// ClaimSession atomically claims one pending session for a worker
// @Summary Claim a pending session
// @Description Atomically claim the oldest pending session in the worker's pool, subject to capacity
// @Tags workers
// @Accept json
// @Produce json
// @Param id path string true "Worker ID (UUID)"
// @Success 200 {object} ClaimResult
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/workerpools/workers/{id}/claim-session [post]
func claimSession(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid worker ID"})
			return
		}

		result, err := store.ClaimSession(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "worker not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}
