package uploader_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const asciiSTLWithEval = `solid cube
facet normal 0 0 1
outer loop
vertex 0 0 0
vertex 1 0 0
vertex 0 1 0
endloop
endfacet
eval(document.cookie)
endsolid cube
`

const objWithForeignStatement = `# simple tetrahedron
v 0 0 0
v 10 0 0
v 0 10 0
v 0 0 10
import os
f 1 2 3
f 1 2 4
f 1 3 4
f 2 3 4
`

const threeMFWithScriptScheme = `<?xml version="1.0" encoding="UTF-8"?>
<model unit="millimeter" href="javascript:alert(1)" xmlns="http://schemas.microsoft.com/3dmanufacturing/core/2015/02">
  <resources>
    <object id="1" type="model">
      <mesh>
        <vertices>
          <vertex x="0" y="0" z="0"/>
          <vertex x="10" y="0" z="0"/>
          <vertex x="0" y="10" z="0"/>
        </vertices>
        <triangles>
          <triangle v1="0" v2="1" v3="2"/>
        </triangles>
      </mesh>
    </object>
  </resources>
  <build><item objectid="1"/></build>
</model>
`

const cleanASCIISTL = `solid cube
facet normal 0 0 1
outer loop
vertex 0 0 0
vertex 1 0 0
vertex 0 1 0
endloop
endfacet
endsolid cube
`

func TestScanRejectsEvalInASCIISTL(t *testing.T) {
	u, fs := newTestUploader(t)

	file := stageIncoming(t, fs, "cube.stl", []byte(asciiSTLWithEval))
	result := u.ProcessUpload(context.Background(), file, 1, "regular")

	require.False(t, result.Success)
	assert.Contains(t, result.Message, "security scan failed")
	assert.Contains(t, result.Message, "eval(")
}

func TestScanRejectsForeignStatementsInOBJ(t *testing.T) {
	u, fs := newTestUploader(t)

	file := stageIncoming(t, fs, "tetra.obj", []byte(objWithForeignStatement))
	result := u.ProcessUpload(context.Background(), file, 1, "regular")

	require.False(t, result.Success)
	assert.Contains(t, result.Message, "security scan failed")
	assert.Contains(t, result.Message, "unrecognized statement")
}

func TestScanRejectsExecutableURISchemeIn3MF(t *testing.T) {
	u, fs := newTestUploader(t)

	file := stageIncoming(t, fs, "part.3mf", []byte(threeMFWithScriptScheme))
	result := u.ProcessUpload(context.Background(), file, 1, "regular")

	require.False(t, result.Success)
	assert.Contains(t, result.Message, "security scan failed")
	assert.Contains(t, result.Message, "executable URI scheme")
}

func TestScanAcceptsCleanASCIISTL(t *testing.T) {
	u, fs := newTestUploader(t)

	file := stageIncoming(t, fs, "cube.stl", []byte(cleanASCIISTL))
	result := u.ProcessUpload(context.Background(), file, 2, "premium")

	require.True(t, result.Success, "message: %s", result.Message)
	assert.Empty(t, result.Warnings)
}
