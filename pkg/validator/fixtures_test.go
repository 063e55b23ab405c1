package validator_test

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// triangle is 12 floats: normal then three vertices.
type triangle [12]float32

func defaultTriangle(i int) triangle {
	base := float32(i + 1)
	return triangle{
		0, 0, 1,
		base * 10, base * 20, base * 30,
		base*10 + 5, base * 20, base * 30,
		base * 10, base*20 + 5, base * 30,
	}
}

func encodeBinarySTL(triangles []triangle) []byte {
	var buf bytes.Buffer
	buf.Write(make([]byte, 80))

	count := make([]byte, 4)
	binary.LittleEndian.PutUint32(count, uint32(len(triangles)))
	buf.Write(count)

	for _, tri := range triangles {
		for _, value := range tri {
			word := make([]byte, 4)
			binary.LittleEndian.PutUint32(word, math.Float32bits(value))
			buf.Write(word)
		}
		buf.Write([]byte{0, 0})
	}
	return buf.Bytes()
}

func writeBinarySTL(t *testing.T, fs afero.Fs, path string, n int) []byte {
	t.Helper()
	triangles := make([]triangle, n)
	for i := range triangles {
		triangles[i] = defaultTriangle(i)
	}
	data := encodeBinarySTL(triangles)
	require.NoError(t, afero.WriteFile(fs, path, data, 0o644))
	return data
}

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

const validASCIISTL = `solid cube
facet normal 0 0 1
outer loop
vertex 0 0 0
vertex 1 0 0
vertex 0 1 0
endloop
endfacet
endsolid cube
`

const valid3MF = `<?xml version="1.0" encoding="UTF-8"?>
<model unit="millimeter" xmlns="http://schemas.microsoft.com/3dmanufacturing/core/2015/02">
  <resources>
    <object id="1" type="model">
      <mesh>
        <vertices>
          <vertex x="0" y="0" z="0"/>
          <vertex x="10" y="0" z="0"/>
          <vertex x="0" y="10" z="0"/>
          <vertex x="0" y="0" z="10"/>
        </vertices>
        <triangles>
          <triangle v1="0" v2="1" v3="2"/>
          <triangle v1="0" v2="1" v3="3"/>
        </triangles>
      </mesh>
    </object>
  </resources>
  <build><item objectid="1"/></build>
</model>
`

const validAMF = `<?xml version="1.0" encoding="UTF-8"?>
<amf unit="millimeter">
  <object id="0">
    <mesh>
      <vertices>
        <vertex><coordinates><x>0</x><y>0</y><z>0</z></coordinates></vertex>
        <vertex><coordinates><x>10</x><y>0</y><z>0</z></coordinates></vertex>
        <vertex><coordinates><x>0</x><y>10</y><z>0</z></coordinates></vertex>
        <vertex><coordinates><x>0</x><y>0</y><z>10</z></coordinates></vertex>
      </vertices>
      <volume>
        <triangle><v1>0</v1><v2>1</v2><v3>2</v3></triangle>
        <triangle><v1>0</v1><v2>1</v2><v3>3</v3></triangle>
      </volume>
    </mesh>
  </object>
</amf>
`

const validOBJ = `# simple tetrahedron
v 0 0 0
v 10 0 0
v 0 10 0
v 0 0 10
f 1 2 3
f 1 2 4
f 1 3 4
f 2 3 4
`
