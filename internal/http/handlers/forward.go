package handlers

import (
	"net/http"
	"strings"

	"gateway/internal/domain"
	"gateway/internal/pagination"

	"github.com/gin-gonic/gin"
)

// PayloadBuilder turns an inbound request into the payload of one backend
// operation.
type PayloadBuilder func(c *gin.Context, maxLimit int) (any, error)

// ForwardRoute maps one HTTP endpoint to one backend operation.
type ForwardRoute struct {
	Method    string
	Path      string
	Backend   domain.Backend
	Operation string
	Payload   PayloadBuilder
}

func ByID(c *gin.Context, _ int) (any, error) {
	return map[string]string{"id": c.Param("id")}, nil
}

func List(c *gin.Context, maxLimit int) (any, error) {
	return pagination.Normalize(c.Request.URL.Query(), maxLimit), nil
}

func Body(c *gin.Context, _ int) (any, error) {
	return bindBody(c)
}

func BodyWithID(c *gin.Context, _ int) (any, error) {
	body, err := bindBody(c)
	if err != nil {
		return nil, err
	}
	body["id"] = c.Param("id")
	return body, nil
}

// NoPayload is for operations that take no input.
func NoPayload(*gin.Context, int) (any, error) {
	return nil, nil
}

// crud maps the five entity endpoints under path. A non-empty entity names
// the operations for a backend that serves more than one entity, e.g.
// LIST_STAFF and GET_STAFF_BY_ID on the users backend.
func crud(path string, backend domain.Backend, entity string) []ForwardRoute {
	item := path + "/:id"
	op := func(verb, rest string) string {
		if entity == "" {
			return verb + rest
		}
		return verb + "_" + entity + rest
	}
	return []ForwardRoute{
		{http.MethodGet, path, backend, op("LIST", ""), List},
		{http.MethodGet, item, backend, op("GET", "_BY_ID"), ByID},
		{http.MethodPost, path, backend, op("CREATE", ""), Body},
		{http.MethodPut, item, backend, op("UPDATE", ""), BodyWithID},
		{http.MethodDelete, item, backend, op("DELETE", ""), ByID},
	}
}

// ForwardRoutes is every single-backend endpoint under /api.
func ForwardRoutes() []ForwardRoute {
	var routes []ForwardRoute
	routes = append(routes, crud("/users", domain.BackendUsers, "")...)
	routes = append(routes, crud("/staff", domain.BackendUsers, "STAFF")...)
	routes = append(routes, crud("/buildings", domain.BackendBuildings, "")...)
	routes = append(routes, crud("/tasks", domain.BackendTasks, "")...)
	routes = append(routes, crud("/schedules", domain.BackendSchedules, "")...)
	routes = append(routes, crud("/cracks", domain.BackendCracks, "")...)
	routes = append(routes, crud("/notifications", domain.BackendNotifications, "")...)

	routes = append(routes,
		ForwardRoute{http.MethodGet, "/tasks/statistics", domain.BackendTasks, "GET_STATISTICS", NoPayload},
		ForwardRoute{http.MethodGet, "/tasks/feedback/statistics", domain.BackendTasks, "GET_FEEDBACK_STATISTICS", NoPayload},
		ForwardRoute{http.MethodGet, "/cracks/statistics", domain.BackendCracks, "GET_STATISTICS", NoPayload},
		ForwardRoute{http.MethodGet, "/staff/statistics", domain.BackendUsers, "GET_STAFF_STATISTICS", NoPayload},
		ForwardRoute{http.MethodGet, "/buildings/:id/cracks", domain.BackendCracks, "LIST_BY_BUILDING", listWithID},
		ForwardRoute{http.MethodGet, "/staff/:id/assignments", domain.BackendTasks, "LIST_ASSIGNMENTS", staffAssignments},
		ForwardRoute{http.MethodPut, "/notifications/:id/read", domain.BackendNotifications, "MARK_READ", ByID},
	)
	return routes
}

func listWithID(c *gin.Context, maxLimit int) (any, error) {
	req := pagination.Normalize(c.Request.URL.Query(), maxLimit)
	if req.Filters == nil {
		req.Filters = map[string]string{}
	}
	req.Filters["id"] = c.Param("id")
	return req, nil
}

func staffAssignments(c *gin.Context, _ int) (any, error) {
	return map[string]string{"staffId": c.Param("id")}, nil
}

// Forward relays the request to one backend operation and writes the reply
// unchanged.
func (a *API) Forward(rt ForwardRoute) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := rt.Payload(c, a.PageMaxLimit)
		if err != nil {
			RespondGatewayError(c, err)
			return
		}
		reply, err := a.Forwarder.Forward(requestContext(c), rt.Backend, rt.Operation, payload, a.RPCTimeout)
		if err != nil {
			RespondGatewayError(c, err)
			return
		}
		status := http.StatusOK
		if rt.Method == http.MethodPost {
			status = http.StatusCreated
		}
		c.Data(status, "application/json; charset=utf-8", reply)
	}
}

// Mount registers every route on r.
func (a *API) Mount(r gin.IRoutes, routes []ForwardRoute) {
	for _, rt := range routes {
		r.Handle(strings.ToUpper(rt.Method), rt.Path, a.Forward(rt))
	}
}
