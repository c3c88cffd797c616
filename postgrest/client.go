// Package postgrest is a small read-only client for a PostgREST (Supabase) endpoint.
package postgrest

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

// Route names
const (
	Table = "Table"
)

// NewRouter returns the routes of the PostgREST API used by this client. The same
// router serves to build request URLs and to route requests in fakes.
func NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.NewRoute().Name(Table).Methods("GET").Path("/rest/v1/{table}")
	return r
}

// Error is the error body PostgREST returns on non 2xx responses
type Error struct {
	Status  int    `json:"-"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("postgrest %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("postgrest %d: %s", e.Status, e.Message)
}

// Filter is a horizontal filter applied to a table read
type Filter struct {
	Column   string
	Operator string
	Values   []string
}

// In matches the rows whose column is one of values
func In(column string, values ...string) Filter {
	return Filter{Column: column, Operator: "in", Values: values}
}

func (f Filter) encode() string {
	if f.Operator == "in" {
		quoted := make([]string, len(f.Values))
		for i, v := range f.Values {
			quoted[i] = quote(v)
		}
		return "in.(" + strings.Join(quoted, ",") + ")"
	}
	return f.Operator + "." + strings.Join(f.Values, ",")
}

// quote wraps a list value in double quotes when it holds characters reserved by
// the PostgREST grammar
func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, `,.:()" \`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(v) + `"`
}

type Client struct {
	client   *http.Client
	router   *mux.Router
	endpoint string
	apiKey   string
}

// New creates a client for the project at endpoint, apiKey is sent both as the
// apikey header and as the bearer token
func New(c *http.Client, endpoint, apiKey string) *Client {
	if c == nil {
		c = http.DefaultClient
	}
	return &Client{
		client:   c,
		router:   NewRouter(),
		endpoint: endpoint,
		apiKey:   apiKey,
	}
}

// Select reads the given columns of table, keeping the rows that match every filter,
// and decodes the JSON array into dest
func (c *Client) Select(ctx context.Context, dest interface{}, table string, columns []string, filters ...Filter) error {
	query := []string{"select", strings.Join(columns, ",")}
	for _, f := range filters {
		query = append(query, f.Column, f.encode())
	}
	u, err := c.makeURL(Table, []string{"table", table}, query...)
	if err != nil {
		return errors.Wrap(err, "constructing URL")
	}

	req, err := http.NewRequest("GET", u.String(), nil)
	if err != nil {
		return errors.Wrapf(err, "constructing request %s", u)
	}
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.executeRequest(req)
	if err != nil {
		return errors.Wrapf(err, "reading %s", table)
	}
	defer resp.Body.Close()

	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return errors.Wrap(err, "decoding response from server")
		}
	}
	return nil
}

func (c *Client) makeURL(routeName string, pathParams []string, queryParams ...string) (*url.URL, error) {
	if len(queryParams)%2 != 0 {
		panic("queryParams must be even!")
	}

	endpointURL, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing endpoint %s", c.endpoint)
	}
	route := c.router.Get(routeName)
	if route == nil {
		return nil, errors.New("no route with name " + routeName)
	}
	routeURL, err := route.URLPath(pathParams...)
	if err != nil {
		return nil, errors.Wrapf(err, "retrieving route path %s", routeName)
	}

	v := url.Values{}
	for i := 0; i < len(queryParams); i += 2 {
		v.Add(queryParams[i], queryParams[i+1])
	}

	endpointURL.Path = path.Join(endpointURL.Path, routeURL.Path)
	endpointURL.RawQuery = v.Encode()
	return endpointURL, nil
}

func (c *Client) executeRequest(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "executing HTTP request")
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading response body of error")
	}
	pgErr := &Error{Status: resp.StatusCode}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(body, pgErr); err != nil {
			return nil, errors.Wrap(err, "decoding response body of error")
		}
	}
	if pgErr.Message == "" {
		pgErr.Message = strings.TrimSpace(string(body))
		if pgErr.Message == "" {
			pgErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	return nil, pgErr
}
