package marketplace

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type okResponse struct {
	Ok    bool   `json:"ok"`
	Value string `json:"value"`
}

func TestRequestQuery(t *testing.T) {
	f := setup(t, Options{})

	var mutex sync.Mutex
	var seen url.Values
	f.setRouter(func(w http.ResponseWriter, r *http.Request) {
		mutex.Lock()
		seen = r.URL.Query()
		mutex.Unlock()
		fmt.Fprint(w, `{"ok": true, "value": "hello"}`)
	})

	res, err := Request[okResponse](context.Background(), f.client, ApiRequest{
		Method:  "shop.item.get",
		Version: "2.0",
		Params:  map[string]string{"product_id": "42", "lang": "en"},
	})
	require.NoError(t, err)
	require.Equal(t, okResponse{Ok: true, Value: "hello"}, res)

	mutex.Lock()
	defer mutex.Unlock()
	require.Equal(t, "shop.item.get", seen.Get("method"))
	require.Equal(t, "2.0", seen.Get("v"))
	require.Equal(t, "token-1", seen.Get("access_token"))
	require.Equal(t, "42", seen.Get("product_id"))
	require.Equal(t, "en", seen.Get("lang"))
}

func TestRequestRetriesThenSucceeds(t *testing.T) {
	f := setup(t, Options{})

	f.setRouter(sequence(
		respond(http.StatusServiceUnavailable, "overloaded"),
		respond(http.StatusOK, `{"error_response": {"code": 15, "msg": "Remote service error", "request_id": "abc"}}`),
		respond(http.StatusOK, `{"ok": true}`),
	))

	res, err := Request[okResponse](context.Background(), f.client, ApiRequest{Method: "shop.item.get"})
	require.NoError(t, err)
	require.True(t, res.Ok)
	require.Equal(t, int64(3), f.api.routerHits.Load())
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.time.Sleeps())
	require.GreaterOrEqual(t, f.time.Slept(), 3*time.Second)
	// the token is fetched once and reused across attempts
	require.Equal(t, int64(1), f.api.tokenHits.Load())
}

func TestDoErrorResponseThenSuccess(t *testing.T) {
	f := setup(t, Options{})

	f.setRouter(sequence(
		respond(http.StatusInternalServerError, "down"),
		respond(http.StatusOK, `{"ok": true}`),
	))

	body, err := f.client.Do(context.Background(), ApiRequest{Method: "shop.item.get"})
	require.NoError(t, err)
	require.JSONEq(t, `{"ok": true}`, string(body))
	require.Equal(t, int64(2), f.api.routerHits.Load())
}

func TestRequestDecodeFailureAttempts(t *testing.T) {
	f := setup(t, Options{})

	f.setRouter(sequence(
		respond(http.StatusInternalServerError, "down"),
		respond(http.StatusOK, `{"ok": "notbool"}`),
	))

	_, err := Request[okResponse](context.Background(), f.client, ApiRequest{Method: "shop.item.get"})
	var requestErr *ApiRequestError
	require.ErrorAs(t, err, &requestErr)
	require.Equal(t, 2, requestErr.Attempts)
	require.Equal(t, int64(2), f.api.routerHits.Load())
}

func TestRequestExhaustsRetries(t *testing.T) {
	table := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{name: "status", handler: respond(http.StatusInternalServerError, "nope")},
		{name: "envelope", handler: respond(http.StatusOK, `{"error_response": {"code": "isp.error", "msg": "failed"}}`)},
		{name: "not json", handler: respond(http.StatusOK, `<html>maintenance</html>`)},
	}

	for _, row := range table {
		t.Run(row.name, func(t *testing.T) {
			f := setup(t, Options{})
			f.setRouter(row.handler)

			_, err := Request[okResponse](context.Background(), f.client, ApiRequest{Method: "shop.item.get"})

			var reqErr *ApiRequestError
			require.ErrorAs(t, err, &reqErr)
			require.Equal(t, "shop.item.get", reqErr.Method)
			require.Equal(t, 3, reqErr.Attempts)
			require.LessOrEqual(t, f.api.routerHits.Load(), int64(DefaultMaxRetries+1))
			require.NotEmpty(t, f.tel.Find("broken", report_client_request))
		})
	}
}

func TestRequestEnvelopeError(t *testing.T) {
	f := setup(t, Options{MaxRetries: -1})
	f.setRouter(respond(http.StatusOK, `{"error_response": {"code": "29", "msg": "Invalid app key", "sub_code": "isv.appkey", "sub_msg": "bad key"}}`))

	_, err := Request[okResponse](context.Background(), f.client, ApiRequest{Method: "shop.item.get"})

	var envelopeErr *EnvelopeError
	require.ErrorAs(t, err, &envelopeErr)
	require.Equal(t, "29/isv.appkey", envelopeErr.Code)
	require.Equal(t, "Invalid app key: bad key", envelopeErr.Msg)
	require.Equal(t, int64(1), f.api.routerHits.Load())
}

func TestRequestReservedParams(t *testing.T) {
	f := setup(t, Options{})

	for _, key := range []string{"method", "v", "access_token"} {
		_, err := Request[okResponse](context.Background(), f.client, ApiRequest{
			Method: "shop.item.get",
			Params: map[string]string{key: "oops"},
		})

		var reservedErr *ReservedParamError
		require.ErrorAs(t, err, &reservedErr)
		require.Equal(t, []string{key}, reservedErr.Keys)
	}

	require.Equal(t, int64(0), f.api.routerHits.Load())
	require.Equal(t, int64(0), f.api.tokenHits.Load())
}

func TestRequestTimeout(t *testing.T) {
	f := setup(t, Options{Timeout: 50 * time.Millisecond, MaxRetries: -1})

	f.setRouter(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		fmt.Fprint(w, `{"ok": true}`)
	})

	start := time.Now()
	_, err := Request[okResponse](context.Background(), f.client, ApiRequest{Method: "shop.item.get"})
	require.Less(t, time.Since(start), time.Second)

	var reqErr *ApiRequestError
	require.ErrorAs(t, err, &reqErr)
	require.Equal(t, 1, reqErr.Attempts)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, 50*time.Millisecond, timeoutErr.Timeout)
}

func TestRequestInvalidatesRejectedToken(t *testing.T) {
	f := setup(t, Options{})

	var mutex sync.Mutex
	var tokens []string
	f.setRouter(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("access_token")
		mutex.Lock()
		tokens = append(tokens, token)
		mutex.Unlock()

		if token == "token-1" {
			fmt.Fprint(w, `{"error_response": {"code": "IllegalAccessToken", "msg": "token expired"}}`)
			return
		}
		fmt.Fprint(w, `{"ok": true}`)
	})

	res, err := Request[okResponse](context.Background(), f.client, ApiRequest{Method: "shop.item.get"})
	require.NoError(t, err)
	require.True(t, res.Ok)

	mutex.Lock()
	defer mutex.Unlock()
	require.Equal(t, []string{"token-1", "token-2"}, tokens)
	require.Equal(t, int64(2), f.api.tokenHits.Load())
}

func TestRequestUnauthorizedInvalidatesToken(t *testing.T) {
	f := setup(t, Options{})
	f.setRouter(sequence(
		respond(http.StatusUnauthorized, "expired"),
		respond(http.StatusOK, `{"ok": true}`),
	))

	_, err := Request[okResponse](context.Background(), f.client, ApiRequest{Method: "shop.item.get"})
	require.NoError(t, err)
	require.Equal(t, int64(2), f.api.tokenHits.Load())
}

func TestRequestAuthenticationFailure(t *testing.T) {
	f := setup(t, Options{})
	f.setToken(respond(http.StatusForbidden, `{"error": "invalid_client", "error_description": "bad secret"}`))

	_, err := Request[okResponse](context.Background(), f.client, ApiRequest{Method: "shop.item.get"})

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, int64(0), f.api.routerHits.Load())
}

func TestRequestParentCancelled(t *testing.T) {
	f := setup(t, Options{})
	f.setRouter(respond(http.StatusInternalServerError, "nope"))

	_, err := f.client.Token(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = Request[okResponse](ctx, f.client, ApiRequest{Method: "shop.item.get"})
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
	require.LessOrEqual(t, f.api.routerHits.Load(), int64(1))
}

func TestValidate(t *testing.T) {
	require.NoError(t, ApiRequest{Method: "a"}.Validate())
	require.Error(t, ApiRequest{}.Validate())

	err := ApiRequest{Method: "a", Params: map[string]string{"access_token": "x", "method": "y"}}.Validate()
	var reservedErr *ReservedParamError
	require.ErrorAs(t, err, &reservedErr)
	require.Equal(t, []string{"method", "access_token"}, reservedErr.Keys)
}
