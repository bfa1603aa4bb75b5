package server

import (
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"github.com/promptgate/enhance-gateway/internal/apierror"
)

// verifyPageTemplate is the standalone challenge page. The widget posts the
// proof to /api/token and hands the issued token back via postMessage or
// redirect, depending on how the client opened the page.
var verifyPageTemplate = template.Must(template.New("verify").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Verify</title>
  <script src="https://challenges.cloudflare.com/turnstile/v0/api.js" async defer></script>
  <style>
    body { font-family: system-ui, sans-serif; display: flex; flex-direction: column; align-items: center; padding-top: 10vh; }
    .status { margin-top: 1rem; color: #555; }
  </style>
</head>
<body>
  <h1>Quick check</h1>
  <p>Complete the challenge below to start enhancing prompts.</p>
  <div class="cf-turnstile" data-sitekey="{{.SiteKey}}" data-callback="onProof"></div>
  <p class="status" id="status"></p>
  <script>
    async function onProof(proof) {
      const status = document.getElementById("status");
      status.textContent = "Verifying...";
      try {
        const res = await fetch("/api/token", {
          method: "POST",
          headers: { "Content-Type": "application/json" },
          body: JSON.stringify({ proof: proof })
        });
        const body = await res.json();
        if (!res.ok) {
          status.textContent = body.message || "Verification failed";
          return;
        }
        if (window.opener) {
          window.opener.postMessage({ type: "verify:token", token: body.token, expiresAt: body.expires_at }, "*");
          status.textContent = "Verified. You can close this window.";
        } else {
          const params = new URLSearchParams(window.location.search);
          const redirect = params.get("redirect");
          if (redirect && redirect.startsWith("/")) {
            window.location.assign(redirect + "#token=" + encodeURIComponent(body.token));
          } else {
            status.textContent = "Verified.";
          }
        }
      } catch (err) {
        status.textContent = "Verification request failed";
      }
    }
  </script>
</body>
</html>
`))

// verifyEmbedTemplate is the minimal widget-only variant for iframes.
var verifyEmbedTemplate = template.Must(template.New("verify-embed").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <script src="https://challenges.cloudflare.com/turnstile/v0/api.js" async defer></script>
  <style>body { margin: 0; display: flex; justify-content: center; }</style>
</head>
<body>
  <div class="cf-turnstile" data-sitekey="{{.SiteKey}}" data-callback="onProof"></div>
  <script>
    async function onProof(proof) {
      try {
        const res = await fetch("/api/token", {
          method: "POST",
          headers: { "Content-Type": "application/json" },
          body: JSON.stringify({ proof: proof })
        });
        const body = await res.json();
        parent.postMessage(res.ok
          ? { type: "verify:token", token: body.token, expiresAt: body.expires_at }
          : { type: "verify:error", code: body.code, message: body.message }, "*");
      } catch (err) {
        parent.postMessage({ type: "verify:error", code: "INTERNAL_ERROR" }, "*");
      }
    }
  </script>
</body>
</html>
`))

type verifyPageData struct {
	SiteKey string
}

func (s *Server) renderVerifyPage(w http.ResponseWriter, r *http.Request, tmpl *template.Template) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.config.VerifySiteKey == "" {
		s.logger.Error("verification site key not configured")
		apierror.Write(w, apierror.CodeServerMisconfigured, "Server misconfigured")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := tmpl.Execute(w, verifyPageData{SiteKey: s.config.VerifySiteKey}); err != nil {
		s.logger.Error("failed to render verification page", zap.Error(err))
	}
}

func (s *Server) handleVerifyPage(w http.ResponseWriter, r *http.Request) {
	s.renderVerifyPage(w, r, verifyPageTemplate)
}

func (s *Server) handleVerifyEmbedPage(w http.ResponseWriter, r *http.Request) {
	s.renderVerifyPage(w, r, verifyEmbedTemplate)
}
